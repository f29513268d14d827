package portalsync

import (
	"context"
	"errors"
	"testing"

	"github.com/bsm/redislock"
	"github.com/procurelink/portalsync_backend/models"
	"github.com/shopspring/decimal"
)

func TestRunPassCancelsFullyCancelledOrder(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidates[filterFullyCancelled] = []OrderRow{mkRow("PO100", "l1", 1, "10", "5")}
	erp.aggregates["PO100"] = OrderAggregate{
		OrderNo:        "PO100",
		Found:          true,
		TotalOrdered:   decimal.RequireFromString("5"),
		TotalCancelled: decimal.RequireFromString("5"),
	}
	shadow.links[shadowKey(testTenant, "PO100")] = "ext-100"

	e := newTestEngine(erp, shadow, portal)
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Cancelled.Found != 1 || summary.Cancelled.Succeeded != 1 {
		t.Fatalf("cancelled = %+v, want found=1 succeeded=1", summary.Cancelled)
	}
	if summary.Errors != 0 {
		t.Fatalf("errors = %d, want 0", summary.Errors)
	}
	if len(portal.statusCalls) != 1 || portal.statusCalls[0].Status != PortalStatusCancelled {
		t.Fatalf("portal calls = %+v", portal.statusCalls)
	}
	if got := shadow.statuses[shadowKey(testTenant, "PO100")]; got != models.OrderLinkStatusCancelled {
		t.Fatalf("shadow status = %q, want %q", got, models.OrderLinkStatusCancelled)
	}
}

func TestRunPassUpdatesPartiallyCancelledOrder(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	// Adjusted rows: one line cancelled down to 7, one cancelled to zero.
	erp.candidates[filterPartiallyCancelled] = []OrderRow{
		mkRow("PO200", "l1", 1, "10", "7"),
		mkRow("PO200", "l2", 2, "10", "0"),
	}
	shadow.links[shadowKey(testTenant, "PO200")] = "ext-200"

	e := newTestEngine(erp, shadow, portal)
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Updated.Found != 1 || summary.Updated.Succeeded != 1 {
		t.Fatalf("updated = %+v, want found=1 succeeded=1", summary.Updated)
	}
	if len(portal.orderCalls) != 1 || portal.orderCalls[0] != "ext-200" {
		t.Fatalf("portal order calls = %v", portal.orderCalls)
	}
	if len(shadow.touched) != 1 {
		t.Fatalf("timestamp touches = %d, want 1", len(shadow.touched))
	}
}

func TestRunPassClosesEligibleOrder(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidates[filterCloseEligible] = []OrderRow{mkRow("PO300", "l1", 1, "10", "5")}
	shadow.links[shadowKey(testTenant, "PO300")] = "ext-300"

	e := newTestEngine(erp, shadow, portal)
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Closed.Found != 1 || summary.Closed.Succeeded != 1 {
		t.Fatalf("closed = %+v, want found=1 succeeded=1", summary.Closed)
	}
	if got := shadow.statuses[shadowKey(testTenant, "PO300")]; got != models.OrderLinkStatusClosed {
		t.Fatalf("shadow status = %q, want %q", got, models.OrderLinkStatusClosed)
	}
}

func TestRunPassQueryFailureKillsOnlyItsCategory(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidateErr[filterFullyCancelled] = errors.New("erp unreachable")
	erp.candidates[filterCloseEligible] = []OrderRow{mkRow("PO300", "l1", 1, "10", "5")}
	shadow.links[shadowKey(testTenant, "PO300")] = "ext-300"

	e := newTestEngine(erp, shadow, portal)
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Errors != 1 {
		t.Fatalf("errors = %d, want 1", summary.Errors)
	}
	if summary.Closed.Succeeded != 1 {
		t.Fatalf("close category did not run after cancel query failure: %+v", summary)
	}
	if len(shadow.failures) != 1 || shadow.failures[0].Code != "query_failed" || shadow.failures[0].Category != "cancel" {
		t.Fatalf("recorded failures = %+v", shadow.failures)
	}
}

func TestRunPassSkipsOrderThatDriftedAwayFromFullyCancelled(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidates[filterFullyCancelled] = []OrderRow{mkRow("PO100", "l1", 1, "10", "5")}
	// By the time the pass reaches it, the aggregate says only partially cancelled.
	erp.aggregates["PO100"] = OrderAggregate{
		OrderNo:        "PO100",
		Found:          true,
		TotalOrdered:   decimal.RequireFromString("5"),
		TotalCancelled: decimal.RequireFromString("2"),
	}
	shadow.links[shadowKey(testTenant, "PO100")] = "ext-100"

	e := newTestEngine(erp, shadow, portal)
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Cancelled.Found != 1 || summary.Cancelled.Succeeded != 0 {
		t.Fatalf("cancelled = %+v, want found=1 succeeded=0", summary.Cancelled)
	}
	if summary.Errors != 0 {
		t.Fatalf("a classification drift skip was counted as an error: %+v", summary)
	}
	if len(portal.statusCalls) != 0 {
		t.Fatalf("portal was called for a drifted order")
	}
}

func TestRunPassUnlinkedOrderIsSkipNotError(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidates[filterCloseEligible] = []OrderRow{mkRow("PO300", "l1", 1, "10", "5")}

	e := newTestEngine(erp, shadow, portal)
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Closed.Found != 1 || summary.Closed.Succeeded != 0 {
		t.Fatalf("closed = %+v, want found=1 succeeded=0", summary.Closed)
	}
	if summary.Errors != 0 {
		t.Fatalf("unlinked skip counted as error: %+v", summary)
	}
	if len(shadow.failures) != 0 {
		t.Fatalf("recorded failures = %+v, want none", shadow.failures)
	}
}

func TestRunPassRecordsPerOrderFailureAndContinues(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidates[filterCloseEligible] = []OrderRow{
		mkRow("PO301", "l1", 1, "10", "5"),
		mkRow("PO302", "l1", 1, "10", "5"),
	}
	shadow.links[shadowKey(testTenant, "PO301")] = "ext-301"
	shadow.links[shadowKey(testTenant, "PO302")] = "ext-302"
	portal.statusErrs["ext-301"] = &PortalError{Status: 500, StatusText: "500 Internal Server Error"}

	e := newTestEngine(erp, shadow, portal)
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Closed.Found != 2 || summary.Closed.Succeeded != 1 {
		t.Fatalf("closed = %+v, want found=2 succeeded=1", summary.Closed)
	}
	if summary.Errors != 1 {
		t.Fatalf("errors = %d, want 1", summary.Errors)
	}
	if len(shadow.failures) != 1 || shadow.failures[0].OrderNo != "PO301" || shadow.failures[0].RunID != 7 {
		t.Fatalf("recorded failures = %+v", shadow.failures)
	}
}

func TestSecondPassDoesNotResubmitCancelledOrder(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	// The ERP aggregates never change after a cancellation; only the shadow
	// status moving off POSTED keeps the order out of the next pass.
	erp.candidates[filterFullyCancelled] = []OrderRow{mkRow("PO100", "l1", 1, "10", "5")}
	erp.aggregates["PO100"] = OrderAggregate{
		OrderNo:        "PO100",
		Found:          true,
		TotalOrdered:   decimal.RequireFromString("5"),
		TotalCancelled: decimal.RequireFromString("5"),
	}
	shadow.links[shadowKey(testTenant, "PO100")] = "ext-100"

	e := newTestEngine(erp, shadow, portal)
	first := e.RunPass(context.Background(), testTenant, 1)
	second := e.RunPass(context.Background(), testTenant, 2)

	if first.Cancelled.Succeeded != 1 {
		t.Fatalf("first pass cancelled = %+v, want succeeded=1", first.Cancelled)
	}
	if len(portal.statusCalls) != 1 {
		t.Fatalf("portal received %d cancel calls across two passes, want 1: %+v",
			len(portal.statusCalls), portal.statusCalls)
	}
	if second.Cancelled.Succeeded != 0 || second.Errors != 0 {
		t.Fatalf("second pass = %+v, want no new submissions and no errors", second)
	}
	if len(shadow.failures) != 0 {
		t.Fatalf("recorded failures = %+v, want none", shadow.failures)
	}
}

func TestSecondPassDoesNotRecloseClosedOrder(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidates[filterCloseEligible] = []OrderRow{mkRow("PO300", "l1", 1, "10", "5")}
	shadow.links[shadowKey(testTenant, "PO300")] = "ext-300"

	e := newTestEngine(erp, shadow, portal)
	e.RunPass(context.Background(), testTenant, 1)
	second := e.RunPass(context.Background(), testTenant, 2)

	if len(portal.statusCalls) != 1 {
		t.Fatalf("portal received %d close calls across two passes, want 1: %+v",
			len(portal.statusCalls), portal.statusCalls)
	}
	if second.Closed.Succeeded != 0 || second.Errors != 0 {
		t.Fatalf("second pass = %+v, want no new submissions and no errors", second)
	}
}

func TestRunPassLeaseHeldIsSkipNotError(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()

	erp.candidates[filterCloseEligible] = []OrderRow{mkRow("PO300", "l1", 1, "10", "5")}
	shadow.links[shadowKey(testTenant, "PO300")] = "ext-300"

	e := newTestEngine(erp, shadow, portal)
	e.Locker = &fakeLocker{obtainErr: redislock.ErrNotObtained}
	summary := e.RunPass(context.Background(), testTenant, 7)

	if summary.Closed.Found != 1 || summary.Closed.Succeeded != 0 {
		t.Fatalf("closed = %+v, want found=1 succeeded=0", summary.Closed)
	}
	if summary.Errors != 0 {
		t.Fatalf("a held lease was counted as an error: %+v", summary)
	}
	if len(portal.statusCalls) != 0 {
		t.Fatalf("portal was called while the lease was held")
	}
}

func TestRunPassUnknownTenant(t *testing.T) {
	e := newTestEngine(newFakeErp(), newFakeShadow(), newFakePortal())
	summary := e.RunPass(context.Background(), "nobody", 0)
	if summary.Errors != 1 || summary.Succeeded() != 0 {
		t.Fatalf("summary = %+v, want one error and no successes", summary)
	}
}

func TestSyncOrderNoActionShortCircuits(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()
	erp.aggregates["PO-1"] = OrderAggregate{
		OrderNo:      "PO-1",
		Found:        true,
		TotalOrdered: decimal.RequireFromString("10"),
	}
	e := newTestEngine(erp, shadow, portal)

	result, err := e.SyncOrder(context.Background(), testTenant, "PO-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != StateNoCancellations || result.Action != ActionNone {
		t.Fatalf("result = %+v", result)
	}
	if len(portal.statusCalls)+len(portal.orderCalls) != 0 {
		t.Fatalf("portal was called for a NO_ACTION order")
	}
}

func TestSyncOrderCancelPath(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()
	erp.aggregates["PO-1"] = OrderAggregate{
		OrderNo:        "PO-1",
		Found:          true,
		TotalOrdered:   decimal.RequireFromString("4"),
		TotalCancelled: decimal.RequireFromString("4"),
	}
	shadow.links[shadowKey(testTenant, "PO-1")] = "ext-1"
	e := newTestEngine(erp, shadow, portal)

	result, err := e.SyncOrder(context.Background(), testTenant, "PO-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != ActionCancelled {
		t.Fatalf("action = %s, want %s", result.Action, ActionCancelled)
	}
}

func TestSyncOrderUpdatePathBuildsAdjustedPayload(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()
	erp.aggregates["PO200"] = OrderAggregate{
		OrderNo:        "PO200",
		Found:          true,
		TotalOrdered:   decimal.RequireFromString("10"),
		TotalCancelled: decimal.RequireFromString("3"),
	}
	erp.candidates[filterSingleOrder] = []OrderRow{mkRow("PO200", "l1", 1, "10", "7")}
	shadow.links[shadowKey(testTenant, "PO200")] = "ext-200"
	e := newTestEngine(erp, shadow, portal)

	result, err := e.SyncOrder(context.Background(), testTenant, "PO200")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != ActionUpdated || result.State != StatePartiallyCancelled {
		t.Fatalf("result = %+v", result)
	}
	if len(portal.orderCalls) != 1 {
		t.Fatalf("portal order calls = %v", portal.orderCalls)
	}
}

func TestSyncOrderLeaseHeldDoesNotDispatch(t *testing.T) {
	erp := newFakeErp()
	shadow := newFakeShadow()
	portal := newFakePortal()
	erp.aggregates["PO-1"] = OrderAggregate{
		OrderNo:        "PO-1",
		Found:          true,
		TotalOrdered:   decimal.RequireFromString("4"),
		TotalCancelled: decimal.RequireFromString("4"),
	}
	shadow.links[shadowKey(testTenant, "PO-1")] = "ext-1"

	e := newTestEngine(erp, shadow, portal)
	locker := &fakeLocker{obtainErr: redislock.ErrNotObtained}
	e.Locker = locker

	result, err := e.SyncOrder(context.Background(), testTenant, "PO-1")
	if !errors.Is(err, ErrOrderLocked) {
		t.Fatalf("err = %v, want ErrOrderLocked", err)
	}
	if result.Action != ActionNone {
		t.Fatalf("action = %s, want %s", result.Action, ActionNone)
	}
	if len(portal.statusCalls)+len(portal.orderCalls) != 0 {
		t.Fatalf("portal was called while the lease was held")
	}
	wantKey := "portalsync:order:" + testTenant + ":PO-1"
	if len(locker.keys) != 1 || locker.keys[0] != wantKey {
		t.Fatalf("lease keys = %v, want [%s]", locker.keys, wantKey)
	}
}

func TestSyncOrderUnknownTenant(t *testing.T) {
	e := newTestEngine(newFakeErp(), newFakeShadow(), newFakePortal())
	_, err := e.SyncOrder(context.Background(), "nobody", "PO-1")
	if !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("err = %v, want ErrUnknownTenant", err)
	}
}

func TestDistinctOrderNosPreservesOrder(t *testing.T) {
	rows := []OrderRow{
		{OrderNo: "B"}, {OrderNo: "A"}, {OrderNo: "B"}, {OrderNo: "C"}, {OrderNo: "A"},
	}
	got := distinctOrderNos(rows)
	want := []string{"B", "A", "C"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
