package claims_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testCustomerName  = "Nguyen Van A"
	testCustomerPhone = "0901234567"
	testDatabaseFile  = "claims.db"
)

var testEpoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []claims.OperationLog
}

func (recorder *recorderLogger) LogOperation(_ context.Context, entry claims.OperationLog) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.entries = append(recorder.entries, entry)
}

func (recorder *recorderLogger) snapshot() []claims.OperationLog {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]claims.OperationLog(nil), recorder.entries...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []claims.Event
	err    error
}

func (publisher *recordingPublisher) Publish(_ context.Context, event claims.Event) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.err != nil {
		return publisher.err
	}
	publisher.events = append(publisher.events, event)
	return nil
}

func (publisher *recordingPublisher) ofType(eventType claims.EventType) []claims.Event {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	var matched []claims.Event
	for _, event := range publisher.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type harness struct {
	service   *claims.Service
	store     *gormstore.Store
	clock     *testClock
	logger    *recorderLogger
	publisher *recordingPublisher
}

func openTestDatabase(test *testing.T) *gorm.DB {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), testDatabaseFile)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := gormstore.AutoMigrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return db
}

// storeFaults injects failures into a wrapped store, including the stores handed out by WithTx.
type storeFaults struct {
	commissionErr   error
	reservationCode string
	reservationErr  error
	overdueListed   *sync.WaitGroup
}

type faultyStore struct {
	claims.Store
	faults *storeFaults
}

func (store faultyStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore claims.Store) error) error {
	return store.Store.WithTx(ctx, func(ctx context.Context, txStore claims.Store) error {
		return fn(ctx, faultyStore{Store: txStore, faults: store.faults})
	})
}

func (store faultyStore) CreateCommission(ctx context.Context, commission claims.Commission) error {
	if store.faults.commissionErr != nil {
		return store.faults.commissionErr
	}
	return store.Store.CreateCommission(ctx, commission)
}

func (store faultyStore) UpdateReservation(ctx context.Context, reservation claims.Reservation, expected claims.ReservationStatus) error {
	if store.faults.reservationErr != nil && reservation.Code.String() == store.faults.reservationCode {
		return store.faults.reservationErr
	}
	return store.Store.UpdateReservation(ctx, reservation, expected)
}

// ListOverdueReservations holds every caller until all expected sweeps have listed their candidates.
func (store faultyStore) ListOverdueReservations(ctx context.Context, at time.Time) ([]claims.Reservation, error) {
	reservations, err := store.Store.ListOverdueReservations(ctx, at)
	if store.faults.overdueListed != nil {
		store.faults.overdueListed.Done()
		store.faults.overdueListed.Wait()
	}
	return reservations, err
}

func newHarness(test *testing.T, options ...claims.ServiceOption) *harness {
	test.Helper()
	return newHarnessWithFaults(test, nil, options...)
}

// newHarnessWithFaults runs the service on a store wrapped with faults; h.store stays unwrapped.
func newHarnessWithFaults(test *testing.T, faults *storeFaults, options ...claims.ServiceOption) *harness {
	test.Helper()
	store := gormstore.New(openTestDatabase(test))
	var serviceStore claims.Store = store
	if faults != nil {
		serviceStore = faultyStore{Store: store, faults: faults}
	}
	clock := newTestClock()
	recorder := &recorderLogger{}
	publisher := &recordingPublisher{}
	allOptions := append([]claims.ServiceOption{
		claims.WithOperationLogger(recorder),
		claims.WithEventPublisher(publisher),
	}, options...)
	service, err := claims.NewService(serviceStore, clock.Now, allOptions...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return &harness{service: service, store: store, clock: clock, logger: recorder, publisher: publisher}
}

func (h *harness) importUnit(test *testing.T, code string, price claims.Money, unitRate *claims.BasisPoints, project *claims.Project) claims.UnitCode {
	test.Helper()
	unit := claims.Unit{Code: mustUnitCode(test, code), Price: price, CommissionRateBps: unitRate}
	var projects []claims.Project
	if project != nil {
		unit.ProjectCode = project.Code
		projects = append(projects, *project)
	}
	if err := h.service.ImportUnits(context.Background(), projects, []claims.Unit{unit}); err != nil {
		test.Fatalf("import unit %s: %v", code, err)
	}
	return unit.Code
}

func (h *harness) unitStatus(test *testing.T, code claims.UnitCode) claims.UnitStatus {
	test.Helper()
	unit, err := h.service.GetUnit(context.Background(), code)
	if err != nil {
		test.Fatalf("get unit %s: %v", code.String(), err)
	}
	return unit.Status
}

func (h *harness) snapshot(test *testing.T, code claims.UnitCode) claims.ClaimSnapshot {
	test.Helper()
	ctx := context.Background()
	reservations, err := h.store.ListUnitReservations(ctx, code)
	if err != nil {
		test.Fatalf("list reservations: %v", err)
	}
	bookings, err := h.store.ListUnitBookings(ctx, code)
	if err != nil {
		test.Fatalf("list bookings: %v", err)
	}
	deposits, err := h.store.ListUnitDeposits(ctx, code)
	if err != nil {
		test.Fatalf("list deposits: %v", err)
	}
	return claims.ClaimSnapshot{Reservations: reservations, Bookings: bookings, Deposits: deposits}
}

func (h *harness) reserve(test *testing.T, unit claims.UnitCode, holder string, joinQueue bool) (claims.Reservation, error) {
	test.Helper()
	return h.service.CreateReservation(context.Background(), claims.ReservationRequest{
		UnitCode:  unit,
		HolderID:  mustHolderID(test, holder),
		Customer:  testCustomer(),
		JoinQueue: joinQueue,
	})
}

func (h *harness) mustReserve(test *testing.T, unit claims.UnitCode, holder string, joinQueue bool) claims.Reservation {
	test.Helper()
	reservation, err := h.reserve(test, unit, holder, joinQueue)
	if err != nil {
		test.Fatalf("reserve %s for %s: %v", unit.String(), holder, err)
	}
	return reservation
}

func (h *harness) deposit(test *testing.T, unit claims.UnitCode, holder string, amount claims.Money, source *claims.ClaimCode) (claims.Deposit, error) {
	test.Helper()
	return h.service.CreateDeposit(context.Background(), claims.DepositRequest{
		UnitCode:          unit,
		HolderID:          mustHolderID(test, holder),
		Customer:          testCustomer(),
		Amount:            amount,
		SourceReservation: source,
	})
}

func (h *harness) transition(test *testing.T, kind claims.ClaimKind, code claims.ClaimCode, action claims.Action, input claims.TransitionInput) (claims.TransitionResult, error) {
	test.Helper()
	return h.service.Transition(context.Background(), claims.ClaimRef{Kind: kind, Code: code}, action, input)
}

func (h *harness) mustTransition(test *testing.T, kind claims.ClaimKind, code claims.ClaimCode, action claims.Action, input claims.TransitionInput) claims.TransitionResult {
	test.Helper()
	result, err := h.transition(test, kind, code, action, input)
	if err != nil {
		test.Fatalf("%s %s %s: %v", action, kind, code.String(), err)
	}
	return result
}

func testCustomer() claims.Customer {
	return claims.Customer{Name: testCustomerName, Phone: testCustomerPhone}
}

func mustUnitCode(test *testing.T, raw string) claims.UnitCode {
	test.Helper()
	code, err := claims.NewUnitCode(raw)
	if err != nil {
		test.Fatalf("unit code: %v", err)
	}
	return code
}

func mustHolderID(test *testing.T, raw string) claims.HolderID {
	test.Helper()
	holder, err := claims.NewHolderID(raw)
	if err != nil {
		test.Fatalf("holder id: %v", err)
	}
	return holder
}

func bps(value int64) *claims.BasisPoints {
	rate := claims.BasisPoints(value)
	return &rate
}

func expectError(test *testing.T, err error, target error) {
	test.Helper()
	if !errors.Is(err, target) {
		test.Fatalf("expected %v, got %v", target, err)
	}
}
