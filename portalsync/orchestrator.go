package portalsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/procurelink/portalsync_backend/config"
	"github.com/sirupsen/logrus"
)

const orderLeaseTTL = 2 * time.Minute

// Pass categories, also used as the category column on recorded errors.
const (
	categoryCancel = "cancel"
	categoryUpdate = "update"
	categoryClose  = "close"
)

// outcome of one per-order step. Skips (lease held, no shadow link,
// classification drift) are not errors; the next pass revisits them.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// RunPass drives one full reconciliation pass for one tenant: cancel the
// fully-cancelled set, push content updates for the partially-cancelled set,
// close the completed set. Orders are processed strictly sequentially; no
// per-order failure escapes the pass, and a candidate-set fetch failure
// kills only its own category. runID scopes the recorded errors; zero means
// ad-hoc (nothing recorded).
func (e *Engine) RunPass(ctx context.Context, tenantID string, runID uint) PassSummary {
	summary := PassSummary{Tenant: tenantID}

	tenant, err := e.tenant(tenantID)
	if err != nil {
		e.log().Errorf("pass aborted: %v", err)
		summary.Errors++
		_ = e.Shadow.RecordError(ctx, runID, tenantID, "", "", "unknown_tenant", err.Error(), false)
		return summary
	}

	logger := e.log().WithFields(logrus.Fields{"tenant": tenantID, "run_id": runID})

	// Fully-cancelled set: one status transition per order.
	rows, err := e.ERP.FetchCandidateRows(ctx, tenant, FilterFullyCancelled(), false)
	if err != nil {
		logger.Errorf("fetch fully-cancelled candidates failed: %v", err)
		summary.Errors++
		_ = e.Shadow.RecordError(ctx, runID, tenantID, "", categoryCancel, "query_failed", err.Error(), true)
	} else {
		orderNos := distinctOrderNos(rows)
		summary.Cancelled.Found = len(orderNos)
		for _, orderNo := range orderNos {
			switch e.cancelOne(ctx, tenant, orderNo, runID, logger) {
			case outcomeSucceeded:
				summary.Cancelled.Succeeded++
			case outcomeFailed:
				summary.Errors++
			}
		}
	}

	// Partially-cancelled set: adjusted, zero-filtered content updates.
	rows, err = e.ERP.FetchCandidateRows(ctx, tenant, FilterPartiallyCancelled(), true)
	if err != nil {
		logger.Errorf("fetch partially-cancelled candidates failed: %v", err)
		summary.Errors++
		_ = e.Shadow.RecordError(ctx, runID, tenantID, "", categoryUpdate, "query_failed", err.Error(), true)
	} else {
		payloads, report := BuildPayloads(rows, BuildOptions{FilterZeroQuantities: true})
		summary.Updated.Found = report.Built + len(report.Skipped) + len(report.Invalid)
		for _, skipped := range report.Skipped {
			logger.WithField("order_no", skipped).Info("all lines cancelled to zero; order skipped")
		}
		for _, invalid := range report.Invalid {
			logger.WithField("order_no", invalid).Warn("payload failed validation; order dropped from batch")
		}
		for _, payload := range payloads {
			switch e.updateOne(ctx, tenant.ID, payload, runID, logger) {
			case outcomeSucceeded:
				summary.Updated.Succeeded++
			case outcomeFailed:
				summary.Errors++
			}
		}
	}

	// Close set: completed, fully invoiced, zero cancellations, recent.
	rows, err = e.ERP.FetchCandidateRows(ctx, tenant, FilterCloseEligible(e.closeWindow()), false)
	if err != nil {
		logger.Errorf("fetch close candidates failed: %v", err)
		summary.Errors++
		_ = e.Shadow.RecordError(ctx, runID, tenantID, "", categoryClose, "query_failed", err.Error(), true)
	} else {
		orderNos := distinctOrderNos(rows)
		summary.Closed.Found = len(orderNos)
		for _, orderNo := range orderNos {
			switch e.closeOne(ctx, tenant.ID, orderNo, runID, logger) {
			case outcomeSucceeded:
				summary.Closed.Succeeded++
			case outcomeFailed:
				summary.Errors++
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"cancelled": summary.Cancelled,
		"updated":   summary.Updated,
		"closed":    summary.Closed,
		"errors":    summary.Errors,
	}).Info("reconciliation pass finished")
	return summary
}

func (e *Engine) cancelOne(ctx context.Context, tenant config.TenantConfig, orderNo string, runID uint, logger *logrus.Entry) outcome {
	release, ok := e.acquireOrderLease(ctx, tenant.ID, orderNo, logger)
	if !ok {
		return outcomeSkipped
	}
	defer release()

	// Re-derive the classification right before acting; the candidate query
	// ran earlier and the ERP may have moved underneath it.
	agg, aggErr := e.ERP.FetchAggregate(ctx, tenant, orderNo)
	cls := Classify(agg, aggErr)
	if cls.Recommendation != RecommendCancelOrder {
		logger.WithFields(logrus.Fields{"order_no": orderNo, "state": cls.State}).
			Warn("order no longer fully cancelled; skipping")
		return outcomeSkipped
	}

	if err := e.TransitionStatus(ctx, orderNo, PortalStatusCancelled, tenant.ID); err != nil {
		if errors.Is(err, ErrNotLinked) {
			logger.WithField("order_no", orderNo).Warn("order has no portal link; skipping cancel")
			return outcomeSkipped
		}
		logger.WithField("order_no", orderNo).Errorf("cancel failed: %v", err)
		_ = e.Shadow.RecordError(ctx, runID, tenant.ID, orderNo, categoryCancel, "transition_failed", err.Error(), true)
		return outcomeFailed
	}
	return outcomeSucceeded
}

func (e *Engine) updateOne(ctx context.Context, tenantID string, payload OrderPayload, runID uint, logger *logrus.Entry) outcome {
	release, ok := e.acquireOrderLease(ctx, tenantID, payload.OrderNo, logger)
	if !ok {
		return outcomeSkipped
	}
	defer release()

	if err := e.UpdateOrderContent(ctx, tenantID, payload); err != nil {
		if errors.Is(err, ErrNotLinked) {
			logger.WithField("order_no", payload.OrderNo).Warn("order has no portal link; skipping update")
			return outcomeSkipped
		}
		logger.WithField("order_no", payload.OrderNo).Errorf("content update failed: %v", err)
		_ = e.Shadow.RecordError(ctx, runID, tenantID, payload.OrderNo, categoryUpdate, "update_failed", err.Error(), true)
		return outcomeFailed
	}
	return outcomeSucceeded
}

func (e *Engine) closeOne(ctx context.Context, tenantID, orderNo string, runID uint, logger *logrus.Entry) outcome {
	release, ok := e.acquireOrderLease(ctx, tenantID, orderNo, logger)
	if !ok {
		return outcomeSkipped
	}
	defer release()

	if err := e.TransitionStatus(ctx, orderNo, PortalStatusClosed, tenantID); err != nil {
		if errors.Is(err, ErrNotLinked) {
			logger.WithField("order_no", orderNo).Warn("order has no portal link; skipping close")
			return outcomeSkipped
		}
		logger.WithField("order_no", orderNo).Errorf("close failed: %v", err)
		_ = e.Shadow.RecordError(ctx, runID, tenantID, orderNo, categoryClose, "transition_failed", err.Error(), true)
		return outcomeFailed
	}
	return outcomeSucceeded
}

// SyncOrder is the ad-hoc single-order path: classify live, dispatch the one
// matching action. NO_ACTION short-circuits with a no-op result.
func (e *Engine) SyncOrder(ctx context.Context, tenantID, orderNo string) (DispatchResult, error) {
	tenant, err := e.tenant(tenantID)
	if err != nil {
		return DispatchResult{OrderNo: orderNo}, err
	}

	agg, aggErr := e.ERP.FetchAggregate(ctx, tenant, orderNo)
	cls := Classify(agg, aggErr)

	result := DispatchResult{
		OrderNo:        orderNo,
		State:          cls.State,
		Recommendation: cls.Recommendation,
		Action:         ActionNone,
	}
	if aggErr != nil {
		result.Error = aggErr.Error()
	}

	logger := e.log().WithFields(logrus.Fields{"tenant": tenantID, "order_no": orderNo})

	switch cls.Recommendation {
	case RecommendCancelOrder:
		release, ok := e.acquireOrderLease(ctx, tenantID, orderNo, logger)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrOrderLocked, orderNo)
			result.Error = err.Error()
			return result, err
		}
		defer release()

		if err := e.TransitionStatus(ctx, orderNo, PortalStatusCancelled, tenantID); err != nil {
			result.Error = err.Error()
			return result, err
		}
		result.Action = ActionCancelled

	case RecommendUpdateOrder:
		release, ok := e.acquireOrderLease(ctx, tenantID, orderNo, logger)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrOrderLocked, orderNo)
			result.Error = err.Error()
			return result, err
		}
		defer release()

		rows, err := e.ERP.FetchCandidateRows(ctx, tenant, FilterOrder(orderNo), true)
		if err != nil {
			result.Error = err.Error()
			return result, err
		}
		payloads, report := BuildPayloads(rows, BuildOptions{FilterZeroQuantities: true})
		if len(payloads) == 0 {
			err := fmt.Errorf("order %s produced no valid payload (skipped=%d invalid=%d)",
				orderNo, len(report.Skipped), len(report.Invalid))
			result.Error = err.Error()
			return result, err
		}
		if err := e.UpdateOrderContent(ctx, tenantID, payloads[0]); err != nil {
			result.Error = err.Error()
			return result, err
		}
		result.Action = ActionUpdated
	}

	return result, nil
}

// acquireOrderLease takes the per-order sync lease. A held lease means
// another pass is mid-flight on this order; skip and let a later pass pick
// it up. Redis being unavailable degrades to the status-filter exclusion
// rather than halting the pass.
func (e *Engine) acquireOrderLease(ctx context.Context, tenantID, orderNo string, logger *logrus.Entry) (func(), bool) {
	if e.Locker == nil {
		return func() {}, true
	}

	key := fmt.Sprintf("portalsync:order:%s:%s", tenantID, orderNo)
	lock, err := e.Locker.Obtain(ctx, key, orderLeaseTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		logger.WithField("order_no", orderNo).Warn("order lease held elsewhere; skipping")
		return nil, false
	}
	if err != nil {
		logger.WithField("order_no", orderNo).Warnf("order lease unavailable, proceeding without it: %v", err)
		return func() {}, true
	}
	if lock == nil {
		return func() {}, true
	}
	return func() { _ = lock.Release(context.Background()) }, true
}

func distinctOrderNos(rows []OrderRow) []string {
	var out []string
	seen := map[string]bool{}
	for _, row := range rows {
		if seen[row.OrderNo] {
			continue
		}
		seen[row.OrderNo] = true
		out = append(out, row.OrderNo)
	}
	return out
}
