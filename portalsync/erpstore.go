package portalsync

import (
	"context"
	"fmt"
	"time"

	"github.com/procurelink/portalsync_backend/config"
	"github.com/shopspring/decimal"
)

// ErpStore is the typed query boundary over a tenant's ERP database. Every
// query is parameterized; order numbers and dates travel as bind arguments,
// never as interpolated text.
type ErpStore interface {
	// FetchAggregate sums ordered and cancelled quantities for one order.
	FetchAggregate(ctx context.Context, tenant config.TenantConfig, orderNo string) (OrderAggregate, error)

	// FetchCandidateRows returns denormalized header+line rows for the
	// orders the filter selects, restricted to portal-approved orders.
	// When adjustForCancellation is set the line quantity is projected as
	// ordered - cancelled instead of the raw ordered quantity.
	FetchCandidateRows(ctx context.Context, tenant config.TenantConfig, filter CandidateFilter, adjustForCancellation bool) ([]OrderRow, error)
}

type filterKind int

const (
	filterFullyCancelled filterKind = iota
	filterPartiallyCancelled
	filterCloseEligible
	filterSingleOrder
)

// CandidateFilter selects which orders a fetch considers. The SQL fragment
// per kind is fixed at compile time; only bind arguments vary.
type CandidateFilter struct {
	kind    filterKind
	orderNo string
	window  time.Duration
}

func FilterFullyCancelled() CandidateFilter {
	return CandidateFilter{kind: filterFullyCancelled}
}

func FilterPartiallyCancelled() CandidateFilter {
	return CandidateFilter{kind: filterPartiallyCancelled}
}

// FilterCloseEligible selects completed, fully invoiced orders with zero
// cancellations dated within the trailing window.
func FilterCloseEligible(window time.Duration) CandidateFilter {
	return CandidateFilter{kind: filterCloseEligible, window: window}
}

func FilterOrder(orderNo string) CandidateFilter {
	return CandidateFilter{kind: filterSingleOrder, orderNo: orderNo}
}

type gormErpStore struct{}

// NewErpStore returns the gorm-backed ERP store.
func NewErpStore() ErpStore {
	return &gormErpStore{}
}

const aggregateSQL = `
SELECT COALESCE(SUM(l.qty_ordered), 0)   AS total_ordered,
       COALESCE(SUM(l.qty_cancelled), 0) AS total_cancelled,
       COUNT(l.id)                       AS line_count
FROM po_headers h
JOIN po_lines l ON l.po_header_id = h.id
WHERE h.company_code = ?
  AND h.portal_approved = 1
  AND h.order_no = ?`

type aggregateRow struct {
	TotalOrdered   decimal.Decimal `gorm:"column:total_ordered"`
	TotalCancelled decimal.Decimal `gorm:"column:total_cancelled"`
	LineCount      int64           `gorm:"column:line_count"`
}

func (s *gormErpStore) FetchAggregate(ctx context.Context, tenant config.TenantConfig, orderNo string) (OrderAggregate, error) {
	db, err := config.GetERPDB(tenant.Database)
	if err != nil {
		return OrderAggregate{OrderNo: orderNo}, err
	}

	var row aggregateRow
	if err := db.WithContext(ctx).Raw(aggregateSQL, tenant.CompanyID, orderNo).Scan(&row).Error; err != nil {
		return OrderAggregate{OrderNo: orderNo}, fmt.Errorf("fetch aggregate for %s: %w", orderNo, err)
	}

	return OrderAggregate{
		OrderNo:        orderNo,
		Found:          row.LineCount > 0,
		TotalOrdered:   row.TotalOrdered,
		TotalCancelled: row.TotalCancelled,
	}, nil
}

// Quantity projections. Chosen by flag, never concatenated from input.
const (
	qtyRawExpr      = "l.qty_ordered"
	qtyAdjustedExpr = "(l.qty_ordered - l.qty_cancelled)"
)

const candidateSelectSQL = `
SELECT h.order_no, h.currency, h.order_date, h.provider_ref,
       h.company_code, h.warehouse_code, h.buyer_name,
       l.line_id, l.line_seq, l.item_code, l.description,
       l.unit_price, %s AS quantity, l.qty_cancelled
FROM po_headers h
JOIN po_lines l ON l.po_header_id = h.id
WHERE h.company_code = ?
  AND h.portal_approved = 1`

// One shared eligibility predicate serves the cancel, update and close
// candidate sets; only the HAVING condition differs per set.
const candidateAggSubquery = `
  AND h.id IN (
    SELECT l2.po_header_id
    FROM po_lines l2
    GROUP BY l2.po_header_id
    HAVING %s
  )`

const closeExtraSQL = `
  AND h.order_status = 'COMPLETED'
  AND h.fully_invoiced = 1
  AND h.order_date >= ?
  AND EXISTS (SELECT 1 FROM po_invoices i WHERE i.po_header_id = h.id)`

const candidateOrderBySQL = `
ORDER BY h.order_no, l.line_seq`

func (s *gormErpStore) FetchCandidateRows(ctx context.Context, tenant config.TenantConfig, filter CandidateFilter, adjustForCancellation bool) ([]OrderRow, error) {
	db, err := config.GetERPDB(tenant.Database)
	if err != nil {
		return nil, err
	}

	qtyExpr := qtyRawExpr
	if adjustForCancellation {
		qtyExpr = qtyAdjustedExpr
	}

	sql := fmt.Sprintf(candidateSelectSQL, qtyExpr)
	args := []interface{}{tenant.CompanyID}

	switch filter.kind {
	case filterFullyCancelled:
		sql += fmt.Sprintf(candidateAggSubquery,
			"SUM(l2.qty_cancelled) > 0 AND SUM(l2.qty_cancelled) = SUM(l2.qty_ordered)")
	case filterPartiallyCancelled:
		sql += fmt.Sprintf(candidateAggSubquery,
			"SUM(l2.qty_cancelled) > 0 AND SUM(l2.qty_cancelled) < SUM(l2.qty_ordered)")
	case filterCloseEligible:
		sql += fmt.Sprintf(candidateAggSubquery, "SUM(l2.qty_cancelled) = 0")
		sql += closeExtraSQL
		args = append(args, time.Now().Add(-filter.window))
	case filterSingleOrder:
		sql += "\n  AND h.order_no = ?"
		args = append(args, filter.orderNo)
	default:
		return nil, fmt.Errorf("unknown candidate filter %d", filter.kind)
	}
	sql += candidateOrderBySQL

	var rows []OrderRow
	if err := db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch candidate rows: %w", err)
	}
	return rows, nil
}
