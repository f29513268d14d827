package portalsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/procurelink/portalsync_backend/config"
	"github.com/procurelink/portalsync_backend/models"
)

// PassRequest identifies one queued reconciliation pass.
type PassRequest struct {
	RunId    uint   `json:"run_id"`
	TenantId string `json:"tenant_id"`
}

// ExecuteQueuedPass runs one queued pass to completion and persists the
// outcome on the run row. Re-delivery is safe: a run already in a terminal
// status is left alone.
func ExecuteQueuedPass(ctx context.Context, engine *Engine, req PassRequest) error {
	if req.RunId == 0 || req.TenantId == "" {
		return errors.New("invalid pass request")
	}
	db := config.GetDB()
	if db == nil {
		return errors.New("shadow db is not connected")
	}

	var run models.PortalSyncRun
	if err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", req.RunId, req.TenantId).
		Take(&run).Error; err != nil {
		return err
	}

	if run.Status == models.SyncRunStatusSuccess ||
		run.Status == models.SyncRunStatusFailed ||
		run.Status == models.SyncRunStatusPartial {
		return nil
	}

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	if err := db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	summary := engine.RunPass(ctx, req.TenantId, run.ID)

	finishedAt := time.Now()
	status := runStatusFor(summary)

	statsJSON, _ := json.Marshal(summary)
	return db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(*startedAt).Milliseconds(),
		"records_synced": summary.Succeeded(),
		"error_count":    summary.Errors,
		"stats_json":     statsJSON,
	}).Error
}

// runStatusFor derives the terminal run status: failed only when errors
// occurred and nothing at all went through, partial when errors sat next to
// successes.
func runStatusFor(summary PassSummary) string {
	switch {
	case summary.Errors > 0 && summary.Succeeded() == 0:
		return models.SyncRunStatusFailed
	case summary.Errors > 0:
		return models.SyncRunStatusPartial
	default:
		return models.SyncRunStatusSuccess
	}
}
