package portalsync

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/procurelink/portalsync_backend/config"
	"github.com/procurelink/portalsync_backend/models"
	"github.com/procurelink/portalsync_backend/utils"
	"gorm.io/gorm"
)

type SyncRunResponse struct {
	ID            uint            `json:"id"`
	Status        string          `json:"status"`
	StartedAt     *string         `json:"startedAt"`
	FinishedAt    *string         `json:"finishedAt"`
	DurationMs    int64           `json:"durationMs"`
	RecordsSynced int             `json:"recordsSynced"`
	ErrorCount    int             `json:"errorCount"`
	TriggeredBy   string          `json:"triggeredBy"`
	Stats         json.RawMessage `json:"stats,omitempty"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncErrorResponse struct {
	ID        uint   `json:"id"`
	OrderNo   string `json:"orderNo"`
	Category  string `json:"category"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

// TriggerPassHandler queues a full reconciliation pass for a tenant. With
// ?inline=true the pass runs before the response returns, for environments
// without Pub/Sub.
func TriggerPassHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := resolveTenantID(c)
		if !ok {
			return
		}
		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow db unavailable"})
			return
		}

		run := models.PortalSyncRun{
			TenantId:    tenantID,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredManual,
		}
		if err := db.WithContext(c.Request.Context()).Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if strings.EqualFold(c.Query("inline"), "true") {
			if err := ExecuteQueuedPass(c.Request.Context(), engine, PassRequest{RunId: run.ID, TenantId: tenantID}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "id": run.ID})
				return
			}
			c.JSON(http.StatusOK, gin.H{"id": run.ID, "inline": true})
			return
		}

		if err := PublishPassRequest(c.Request.Context(), run.ID, tenantID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "id": run.ID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

// TriggerAllTenantsHandler queues one pass per configured tenant. Wired to
// the scheduler, so the runs are recorded as system-triggered. One tenant's
// failure to queue never blocks the others.
func TriggerAllTenantsHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow db unavailable"})
			return
		}

		tenantIDs := config.TenantIDs()
		if len(tenantIDs) == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant registry is empty or failed to load"})
			return
		}

		inline := strings.EqualFold(c.Query("inline"), "true")
		runs := make([]gin.H, 0, len(tenantIDs))
		for _, tenantID := range tenantIDs {
			run := models.PortalSyncRun{
				TenantId:    tenantID,
				Status:      models.SyncRunStatusQueued,
				TriggeredBy: models.SyncTriggeredSystem,
			}
			if err := db.WithContext(c.Request.Context()).Create(&run).Error; err != nil {
				runs = append(runs, gin.H{"tenant": tenantID, "error": err.Error()})
				continue
			}

			var err error
			if inline {
				err = ExecuteQueuedPass(c.Request.Context(), engine, PassRequest{RunId: run.ID, TenantId: tenantID})
			} else {
				err = PublishPassRequest(c.Request.Context(), run.ID, tenantID)
			}
			entry := gin.H{"tenant": tenantID, "id": run.ID}
			if err != nil {
				entry["error"] = err.Error()
			}
			runs = append(runs, entry)
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

// SyncOrderHandler runs the ad-hoc single-order path inline and returns the
// dispatch result.
func SyncOrderHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := resolveTenantID(c)
		if !ok {
			return
		}
		orderNo := strings.TrimSpace(c.Param("orderNo"))
		if orderNo == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order number is required"})
			return
		}

		result, err := engine.SyncOrder(c.Request.Context(), tenantID, orderNo)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, ErrUnknownTenant):
				status = http.StatusNotFound
			case errors.Is(err, ErrNotLinked), errors.Is(err, ErrOrderLocked):
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error(), "result": result})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := resolveTenantID(c)
		if !ok {
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow db unavailable"})
			return
		}

		var runs []models.PortalSyncRun
		if err := db.WithContext(c.Request.Context()).
			Where("tenant_id = ?", tenantID).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := resolveTenantID(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow db unavailable"})
			return
		}

		var run models.PortalSyncRun
		if err := db.WithContext(c.Request.Context()).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var errs []models.PortalSyncError
		if err := db.WithContext(c.Request.Context()).
			Where("sync_run_id = ?", run.ID).
			Order("id desc").
			Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapErrors(errs),
		})
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := resolveTenantID(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow db unavailable"})
			return
		}

		var run models.PortalSyncRun
		if err := db.WithContext(c.Request.Context()).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		newRun := models.PortalSyncRun{
			TenantId:    tenantID,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ParentRunId: &run.ID,
		}
		if err := db.WithContext(c.Request.Context()).Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishPassRequest(c.Request.Context(), newRun.ID, tenantID)

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func resolveTenantID(c *gin.Context) (string, bool) {
	tenantID := strings.TrimSpace(c.Param("tenant"))
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant is required"})
		return "", false
	}
	if _, err := config.GetTenant(tenantID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	c.Request = c.Request.WithContext(utils.SetTenantIdInContext(c.Request.Context(), tenantID))
	return tenantID, true
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.PortalSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
		Stats:         json.RawMessage(run.StatsJSON),
	}
}

func mapErrors(errorsList []models.PortalSyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:        errItem.ID,
			OrderNo:   errItem.OrderNo,
			Category:  errItem.Category,
			ErrorCode: errItem.ErrorCode,
			Message:   errItem.Message,
			Retryable: errItem.Retryable,
		})
	}
	return out
}
