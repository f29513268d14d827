package portalsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/procurelink/portalsync_backend/config"
	"github.com/procurelink/portalsync_backend/models"
	"gorm.io/gorm"
)

// ShadowStore is the boundary to the local control table plus per-run error
// bookkeeping. All writes are per-order and happen only after the external
// call has already succeeded.
type ShadowStore interface {
	// LookupExternalID returns the portal-assigned id for an eligible
	// order: status POSTED with a non-empty external id. Returns
	// ErrNotLinked otherwise, so no portal call is ever made for it.
	// Rows already moved to CANCELLED or CLOSED fail this lookup, which is
	// what keeps a transition from being re-submitted on the next pass.
	LookupExternalID(ctx context.Context, tenantID, orderNo string) (string, error)

	SetStatus(ctx context.Context, tenantID, orderNo, status string) error

	// TouchTimestamp refreshes the last-update timestamp without changing
	// status. Used by content updates, which never move the lifecycle.
	TouchTimestamp(ctx context.Context, tenantID, orderNo string) error

	// RecordError persists one order's failure for the run. A zero runID
	// (ad-hoc path) is a no-op.
	RecordError(ctx context.Context, runID uint, tenantID, orderNo, category, code, message string, retryable bool) error
}

type gormShadowStore struct{}

func NewShadowStore() ShadowStore {
	return &gormShadowStore{}
}

func (s *gormShadowStore) LookupExternalID(ctx context.Context, tenantID, orderNo string) (string, error) {
	db := config.GetDB()
	if db == nil {
		return "", errors.New("shadow db is not connected")
	}

	var link models.PortalOrderLink
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND order_no = ? AND status = ?", tenantID, orderNo, models.OrderLinkStatusPosted).
		Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotLinked, orderNo)
		}
		return "", err
	}
	if link.ExternalId == "" {
		return "", fmt.Errorf("%w: %s", ErrNotLinked, orderNo)
	}
	return link.ExternalId, nil
}

func (s *gormShadowStore) SetStatus(ctx context.Context, tenantID, orderNo, status string) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("shadow db is not connected")
	}

	now := time.Now()
	return db.WithContext(ctx).
		Model(&models.PortalOrderLink{}).
		Where("tenant_id = ? AND order_no = ?", tenantID, orderNo).
		Updates(map[string]interface{}{
			"status":         status,
			"last_update_at": now,
		}).Error
}

func (s *gormShadowStore) TouchTimestamp(ctx context.Context, tenantID, orderNo string) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("shadow db is not connected")
	}

	now := time.Now()
	return db.WithContext(ctx).
		Model(&models.PortalOrderLink{}).
		Where("tenant_id = ? AND order_no = ?", tenantID, orderNo).
		Update("last_update_at", now).Error
}

func (s *gormShadowStore) RecordError(ctx context.Context, runID uint, tenantID, orderNo, category, code, message string, retryable bool) error {
	if runID == 0 {
		return nil
	}
	db := config.GetDB()
	if db == nil {
		return errors.New("shadow db is not connected")
	}

	rec := models.PortalSyncError{
		SyncRunId: runID,
		TenantId:  tenantID,
		OrderNo:   orderNo,
		Category:  category,
		ErrorCode: code,
		Message:   message,
		Retryable: retryable,
	}
	return db.WithContext(ctx).Create(&rec).Error
}
