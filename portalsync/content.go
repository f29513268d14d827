package portalsync

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// UpdateOrderContent pushes an order's full payload (lines, quantities,
// totals) to the portal. Content updates never change the supplier-visible
// status, so on success only the shadow timestamp is refreshed.
func (e *Engine) UpdateOrderContent(ctx context.Context, tenantID string, payload OrderPayload) error {
	tenant, err := e.tenant(tenantID)
	if err != nil {
		return err
	}

	externalID, err := e.Shadow.LookupExternalID(ctx, tenantID, payload.OrderNo)
	if err != nil {
		return err
	}

	if err := e.Portal.PutOrder(ctx, tenant, externalID, payload); err != nil {
		return err
	}

	if err := e.Shadow.TouchTimestamp(ctx, tenantID, payload.OrderNo); err != nil {
		e.log().WithFields(logrus.Fields{
			"tenant":   tenantID,
			"order_no": payload.OrderNo,
		}).Warnf("content update succeeded but shadow timestamp refresh failed: %v", err)
	}
	return nil
}

// UpdateMany updates each payload in turn, isolating failures: an order that
// errors is counted and the loop moves on. Orders with no shadow link are
// processed-but-skipped, not failed.
func (e *Engine) UpdateMany(ctx context.Context, tenantID string, payloads []OrderPayload) BatchResult {
	var result BatchResult
	for _, payload := range payloads {
		result.Processed++

		err := e.UpdateOrderContent(ctx, tenantID, payload)
		if err == nil {
			result.Updated++
			continue
		}
		if errors.Is(err, ErrNotLinked) {
			e.log().WithFields(logrus.Fields{
				"tenant":   tenantID,
				"order_no": payload.OrderNo,
			}).Warn("order has no portal link; skipping content update")
			continue
		}

		result.Errors++
		e.log().WithFields(logrus.Fields{
			"tenant":   tenantID,
			"order_no": payload.OrderNo,
		}).Errorf("content update failed: %v", err)
	}
	return result
}
