package portalsync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bsm/redislock"
	"github.com/procurelink/portalsync_backend/config"
	"github.com/procurelink/portalsync_backend/models"
	"github.com/sirupsen/logrus"
)

// In-memory collaborators so engine behaviour can be exercised without a
// database or a live portal.

type fakeErp struct {
	aggregates   map[string]OrderAggregate
	aggregateErr map[string]error
	candidates   map[filterKind][]OrderRow
	candidateErr map[filterKind]error
}

func newFakeErp() *fakeErp {
	return &fakeErp{
		aggregates:   map[string]OrderAggregate{},
		aggregateErr: map[string]error{},
		candidates:   map[filterKind][]OrderRow{},
		candidateErr: map[filterKind]error{},
	}
}

func (f *fakeErp) FetchAggregate(_ context.Context, _ config.TenantConfig, orderNo string) (OrderAggregate, error) {
	if err := f.aggregateErr[orderNo]; err != nil {
		return OrderAggregate{OrderNo: orderNo}, err
	}
	agg, ok := f.aggregates[orderNo]
	if !ok {
		return OrderAggregate{OrderNo: orderNo, Found: false}, nil
	}
	return agg, nil
}

func (f *fakeErp) FetchCandidateRows(_ context.Context, _ config.TenantConfig, filter CandidateFilter, _ bool) ([]OrderRow, error) {
	if filter.kind == filterSingleOrder {
		var out []OrderRow
		for _, row := range f.candidates[filterSingleOrder] {
			if row.OrderNo == filter.orderNo {
				out = append(out, row)
			}
		}
		return out, nil
	}
	if err := f.candidateErr[filter.kind]; err != nil {
		return nil, err
	}
	return f.candidates[filter.kind], nil
}

type recordedFailure struct {
	RunID    uint
	OrderNo  string
	Category string
	Code     string
}

type fakeShadow struct {
	links      map[string]string
	statuses   map[string]string
	touched    []string
	failures   []recordedFailure
	statusErr  error
	touchErr   error
	lookupErrs map[string]error
}

func newFakeShadow() *fakeShadow {
	return &fakeShadow{
		links:      map[string]string{},
		statuses:   map[string]string{},
		lookupErrs: map[string]error{},
	}
}

func shadowKey(tenantID, orderNo string) string {
	return tenantID + "|" + orderNo
}

// Links with no recorded status are POSTED; a SetStatus call that moved the
// row off POSTED makes it ineligible, as in the gorm store.
func (f *fakeShadow) LookupExternalID(_ context.Context, tenantID, orderNo string) (string, error) {
	key := shadowKey(tenantID, orderNo)
	if err := f.lookupErrs[key]; err != nil {
		return "", err
	}
	id, ok := f.links[key]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %s", ErrNotLinked, orderNo)
	}
	if status, moved := f.statuses[key]; moved && status != models.OrderLinkStatusPosted {
		return "", fmt.Errorf("%w: %s", ErrNotLinked, orderNo)
	}
	return id, nil
}

func (f *fakeShadow) SetStatus(_ context.Context, tenantID, orderNo, status string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses[shadowKey(tenantID, orderNo)] = status
	return nil
}

func (f *fakeShadow) TouchTimestamp(_ context.Context, tenantID, orderNo string) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, shadowKey(tenantID, orderNo))
	return nil
}

func (f *fakeShadow) RecordError(_ context.Context, runID uint, _, orderNo, category, code, _ string, _ bool) error {
	if runID == 0 {
		return nil
	}
	f.failures = append(f.failures, recordedFailure{RunID: runID, OrderNo: orderNo, Category: category, Code: code})
	return nil
}

type statusCall struct {
	ExternalID string
	Status     string
}

type fakePortal struct {
	statusCalls []statusCall
	orderCalls  []string
	statusErrs  map[string]error
	orderErrs   map[string]error
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		statusErrs: map[string]error{},
		orderErrs:  map[string]error{},
	}
}

func (f *fakePortal) PutStatus(_ context.Context, _ config.TenantConfig, externalID, status string) error {
	if err := f.statusErrs[externalID]; err != nil {
		return err
	}
	f.statusCalls = append(f.statusCalls, statusCall{ExternalID: externalID, Status: status})
	return nil
}

func (f *fakePortal) PutOrder(_ context.Context, _ config.TenantConfig, externalID string, _ OrderPayload) error {
	if err := f.orderErrs[externalID]; err != nil {
		return err
	}
	f.orderCalls = append(f.orderCalls, externalID)
	return nil
}

type fakeLocker struct {
	obtainErr error
	keys      []string
}

func (f *fakeLocker) Obtain(_ context.Context, key string, _ time.Duration, _ *redislock.Options) (*redislock.Lock, error) {
	f.keys = append(f.keys, key)
	if f.obtainErr != nil {
		return nil, f.obtainErr
	}
	return nil, nil
}

const testTenant = "acme"

func newTestEngine(erp *fakeErp, shadow *fakeShadow, portal *fakePortal) *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Engine{
		ERP:    erp,
		Shadow: shadow,
		Portal: portal,
		Tenants: map[string]config.TenantConfig{
			testTenant: {
				ID:        testTenant,
				APIKey:    "key",
				APISecret: "secret",
				BaseURL:   "https://portal.example.com",
				Database:  "erp_acme",
				CompanyID: "C001",
			},
		},
		Logger:      logger,
		CloseWindow: 30 * 24 * time.Hour,
	}
}
