package portalsync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portal status vocabulary. The portal accepts exactly these values on the
// status endpoint; anything else is rejected locally with ErrInvalidStatus.
const (
	PortalStatusOpen      = "OPEN"
	PortalStatusClosed    = "CLOSED"
	PortalStatusCancelled = "CANCELLED"
	PortalStatusGenerated = "GENERATED"
)

func isAllowedPortalStatus(status string) bool {
	switch status {
	case PortalStatusOpen, PortalStatusClosed, PortalStatusCancelled, PortalStatusGenerated:
		return true
	}
	return false
}

// OrderRow is one denormalized header+line row from the ERP candidate query.
// Quantity is already adjusted (ordered - cancelled) when the fetch asked
// for it; QtyCancelled keeps the raw cancelled figure for aggregates.
type OrderRow struct {
	OrderNo       string          `gorm:"column:order_no"`
	Currency      string          `gorm:"column:currency"`
	OrderDate     time.Time       `gorm:"column:order_date"`
	ProviderRef   string          `gorm:"column:provider_ref"`
	CompanyCode   string          `gorm:"column:company_code"`
	WarehouseCode string          `gorm:"column:warehouse_code"`
	BuyerName     string          `gorm:"column:buyer_name"`
	LineID        string          `gorm:"column:line_id"`
	LineSeq       int             `gorm:"column:line_seq"`
	ItemCode      string          `gorm:"column:item_code"`
	Description   string          `gorm:"column:description"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price"`
	Quantity      decimal.Decimal `gorm:"column:quantity"`
	QtyCancelled  decimal.Decimal `gorm:"column:qty_cancelled"`
}

// PayloadLine is one order line as sent to the portal.
type PayloadLine struct {
	LineID      string          `json:"line_id" validate:"required"`
	Sequence    int             `json:"sequence"`
	Code        string          `json:"code" validate:"required"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Total       decimal.Decimal `json:"total"`
}

// OrderPayload is the denormalized, validated representation of one order.
// Each payload is independently postable.
type OrderPayload struct {
	OrderNo     string            `json:"order_no" validate:"required"`
	Currency    string            `json:"currency" validate:"required"`
	OrderDate   string            `json:"order_date" validate:"required"`
	ProviderRef string            `json:"provider_ref"`
	Lines       []PayloadLine     `json:"lines" validate:"required,min=1,dive"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	Total       decimal.Decimal   `json:"total"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type BuildOptions struct {
	// FilterZeroQuantities drops lines whose adjusted quantity is zero.
	// Orders left with no lines are skipped entirely.
	FilterZeroQuantities bool
}

// BuildReport summarizes one BuildPayloads call. Skipped and Invalid orders
// were dropped from the output, never raised as errors.
type BuildReport struct {
	Built   int
	Skipped []string
	Invalid []string
}

// BatchResult is the outcome of a batch content update.
type BatchResult struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
}

type CategoryResult struct {
	Found     int `json:"found"`
	Succeeded int `json:"succeeded"`
}

// PassSummary is the single surfaced report of one reconciliation pass.
type PassSummary struct {
	Tenant    string         `json:"tenant"`
	Cancelled CategoryResult `json:"cancelled"`
	Updated   CategoryResult `json:"updated"`
	Closed    CategoryResult `json:"closed"`
	Errors    int            `json:"errors"`
}

func (s PassSummary) Succeeded() int {
	return s.Cancelled.Succeeded + s.Updated.Succeeded + s.Closed.Succeeded
}

// DispatchResult is the outcome of the ad-hoc single-order path.
type DispatchResult struct {
	OrderNo        string         `json:"order_no"`
	State          OrderState     `json:"state"`
	Recommendation Recommendation `json:"recommendation"`
	Action         string         `json:"action"`
	Error          string         `json:"error,omitempty"`
}

const (
	ActionNone      = "none"
	ActionCancelled = "cancelled"
	ActionUpdated   = "updated"
)
