package portalsync

import (
	"context"
	"fmt"

	"github.com/procurelink/portalsync_backend/models"
	"github.com/sirupsen/logrus"
)

// shadowStatusFor maps a portal status onto the shadow lifecycle. OPEN and
// GENERATED leave the order live on the portal, so the shadow stays POSTED.
func shadowStatusFor(portalStatus string) string {
	switch portalStatus {
	case PortalStatusCancelled:
		return models.OrderLinkStatusCancelled
	case PortalStatusClosed:
		return models.OrderLinkStatusClosed
	default:
		return models.OrderLinkStatusPosted
	}
}

// TransitionStatus performs one status transition against the portal and
// then records it in the shadow table.
//
// The shadow write is best-effort: once the portal accepted the transition,
// the external system is authoritative and a failed local write must not
// turn the call into a failure. The stale shadow row keeps the order in the
// next pass's candidate set, which re-drives the same transition.
func (e *Engine) TransitionStatus(ctx context.Context, orderNo, targetStatus, tenantID string) error {
	if !isAllowedPortalStatus(targetStatus) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, targetStatus)
	}

	tenant, err := e.tenant(tenantID)
	if err != nil {
		return err
	}

	externalID, err := e.Shadow.LookupExternalID(ctx, tenantID, orderNo)
	if err != nil {
		return err
	}

	if err := e.Portal.PutStatus(ctx, tenant, externalID, targetStatus); err != nil {
		return err
	}

	if err := e.Shadow.SetStatus(ctx, tenantID, orderNo, shadowStatusFor(targetStatus)); err != nil {
		e.log().WithFields(logrus.Fields{
			"tenant":   tenantID,
			"order_no": orderNo,
			"status":   targetStatus,
		}).Warnf("portal transition succeeded but shadow update failed: %v", err)
	}
	return nil
}
