package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// TenantConfig describes one vendor-portal account and the ERP database it
// is paired with. Loaded once from PORTAL_TENANTS (JSON array) and keyed by
// tenant id; nothing in the codebase indexes tenants by position.
type TenantConfig struct {
	ID        string `json:"id" validate:"required"`
	APIKey    string `json:"api_key" validate:"required"`
	APISecret string `json:"api_secret" validate:"required"`
	BaseURL   string `json:"base_url" validate:"required,url"`
	Database  string `json:"database" validate:"required"`
	CompanyID string `json:"company_id" validate:"required"`
}

var ErrUnknownTenant = errors.New("unknown tenant")

var (
	tenantsOnce sync.Once
	tenantsByID map[string]TenantConfig
	tenantsErr  error

	tenantValidate = validator.New()
)

// LoadTenants parses and validates the tenant registry. Safe to call from
// multiple goroutines; the registry is immutable after the first load.
func LoadTenants() (map[string]TenantConfig, error) {
	tenantsOnce.Do(func() {
		tenantsByID, tenantsErr = parseTenants(os.Getenv("PORTAL_TENANTS"))
	})
	return tenantsByID, tenantsErr
}

func parseTenants(raw string) (map[string]TenantConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("PORTAL_TENANTS is required")
	}

	var list []TenantConfig
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parse PORTAL_TENANTS: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("PORTAL_TENANTS is empty")
	}

	byID := make(map[string]TenantConfig, len(list))
	for i, t := range list {
		if err := tenantValidate.Struct(t); err != nil {
			return nil, fmt.Errorf("tenant entry %d: %w", i, err)
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("tenant entry %d: duplicate id %q", i, t.ID)
		}
		byID[t.ID] = t
	}
	return byID, nil
}

func GetTenant(id string) (TenantConfig, error) {
	all, err := LoadTenants()
	if err != nil {
		return TenantConfig{}, err
	}
	t, ok := all[id]
	if !ok {
		return TenantConfig{}, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	return t, nil
}

func TenantIDs() []string {
	all, err := LoadTenants()
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
