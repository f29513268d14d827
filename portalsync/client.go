package portalsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/procurelink/portalsync_backend/config"
)

// PortalGateway is the outbound boundary to the vendor portal. One call, one
// external write; retries are the caller's business.
type PortalGateway interface {
	// PutStatus transitions the order's supplier-visible status.
	PutStatus(ctx context.Context, tenant config.TenantConfig, externalID, status string) error

	// PutOrder replaces the order's content (lines, quantities, totals)
	// without touching its top-level status.
	PutOrder(ctx context.Context, tenant config.TenantConfig, externalID string, payload OrderPayload) error
}

const portalTimeout = 30 * time.Second

type portalClient struct {
	http *http.Client
}

func NewPortalGateway() PortalGateway {
	return &portalClient{
		http: &http.Client{Timeout: portalTimeout},
	}
}

func (c *portalClient) PutStatus(ctx context.Context, tenant config.TenantConfig, externalID, status string) error {
	path := fmt.Sprintf("/v1/orders/%s/status", url.PathEscape(externalID))
	return c.put(ctx, tenant, path, map[string]string{"status": status})
}

func (c *portalClient) PutOrder(ctx context.Context, tenant config.TenantConfig, externalID string, payload OrderPayload) error {
	path := fmt.Sprintf("/v1/orders/%s", url.PathEscape(externalID))
	return c.put(ctx, tenant, path, payload)
}

func (c *portalClient) put(ctx context.Context, tenant config.TenantConfig, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(tenant.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", tenant.APIKey)
	req.Header.Set("X-Api-Secret", tenant.APISecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("portal request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PortalError{
			Status:     resp.StatusCode,
			StatusText: resp.Status,
			Data:       strings.TrimSpace(string(respBody)),
		}
	}
	return nil
}
