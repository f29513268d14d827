package portalsync

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/procurelink/portalsync_backend/config"
	"github.com/sirupsen/logrus"
)

const defaultCloseWindow = 30 * 24 * time.Hour

// LeaseLocker is the slice of redislock.Client the engine needs for
// per-order leases.
type LeaseLocker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Engine wires the sync collaborators together. All state-changing
// operations hang off it so tests can swap the stores and the portal for
// fakes.
type Engine struct {
	ERP    ErpStore
	Shadow ShadowStore
	Portal PortalGateway

	// Tenants maps tenant id to configuration. Populated from the registry
	// at startup; immutable afterwards.
	Tenants map[string]config.TenantConfig

	// Locker holds per-order sync leases. Nil disables leasing and falls
	// back to the status-filtered-query exclusion between passes.
	Locker LeaseLocker

	Logger *logrus.Logger

	// CloseWindow bounds how far back the close flow looks for completed,
	// fully invoiced orders.
	CloseWindow time.Duration
}

// NewEngine builds the production engine from the loaded tenant registry.
func NewEngine(logger *logrus.Logger) (*Engine, error) {
	tenants, err := config.LoadTenants()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		ERP:         NewErpStore(),
		Shadow:      NewShadowStore(),
		Portal:      NewPortalGateway(),
		Tenants:     tenants,
		Logger:      logger,
		CloseWindow: defaultCloseWindow,
	}
	if lk := config.GetRedisLock(); lk != nil {
		e.Locker = lk
	}
	return e, nil
}

func (e *Engine) tenant(tenantID string) (config.TenantConfig, error) {
	t, ok := e.Tenants[tenantID]
	if !ok {
		return config.TenantConfig{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return t, nil
}

func (e *Engine) closeWindow() time.Duration {
	if e.CloseWindow > 0 {
		return e.CloseWindow
	}
	return defaultCloseWindow
}

func (e *Engine) log() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}
