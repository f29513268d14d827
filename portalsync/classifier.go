package portalsync

import "github.com/shopspring/decimal"

// OrderState describes how much of an order's quantity has been cancelled.
type OrderState string

const (
	StateNoCancellations    OrderState = "NO_CANCELLATIONS"
	StatePartiallyCancelled OrderState = "PARTIALLY_CANCELLED"
	StateFullyCancelled     OrderState = "FULLY_CANCELLED"
	StateNotFound           OrderState = "NOT_FOUND"
	StateError              OrderState = "ERROR"
)

// Recommendation is the single sync action implied by an order state.
type Recommendation string

const (
	RecommendNoAction    Recommendation = "NO_ACTION"
	RecommendUpdateOrder Recommendation = "UPDATE_ORDER"
	RecommendCancelOrder Recommendation = "CANCEL_ORDER"
)

// OrderAggregate carries the quantity sums for one order. Found is false
// when the query matched no rows for the order number.
type OrderAggregate struct {
	OrderNo        string
	Found          bool
	TotalOrdered   decimal.Decimal
	TotalCancelled decimal.Decimal
}

type Classification struct {
	State          OrderState
	Recommendation Recommendation
}

// Classify maps an order's quantity aggregates to a lifecycle state and the
// one action to take for it. Pure and deterministic: re-evaluating the same
// inputs always yields the same result, which is what makes pass re-runs safe.
//
// A cancelled sum exceeding the ordered sum can only come from corrupt ERP
// data, so it classifies as ERROR rather than guessing an action.
func Classify(agg OrderAggregate, queryErr error) Classification {
	if queryErr != nil {
		return Classification{State: StateError, Recommendation: RecommendNoAction}
	}
	if !agg.Found {
		return Classification{State: StateNotFound, Recommendation: RecommendNoAction}
	}
	if !agg.TotalCancelled.IsPositive() {
		return Classification{State: StateNoCancellations, Recommendation: RecommendNoAction}
	}
	if agg.TotalCancelled.Equal(agg.TotalOrdered) {
		return Classification{State: StateFullyCancelled, Recommendation: RecommendCancelOrder}
	}
	if agg.TotalCancelled.LessThan(agg.TotalOrdered) {
		return Classification{State: StatePartiallyCancelled, Recommendation: RecommendUpdateOrder}
	}
	return Classification{State: StateError, Recommendation: RecommendNoAction}
}
