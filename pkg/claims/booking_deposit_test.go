package claims_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
)

const (
	approverName  = "accountant-01"
	depositAmount = claims.Money(200_000_000)
)

func (h *harness) book(test *testing.T, unit claims.UnitCode, holder string, visit *claims.VisitWindow) (claims.Booking, error) {
	test.Helper()
	return h.service.CreateBooking(context.Background(), claims.BookingRequest{
		UnitCode: unit,
		HolderID: mustHolderID(test, holder),
		Customer: testCustomer(),
		Visit:    visit,
	})
}

func upcomingVisit(clock *testClock) *claims.VisitWindow {
	start := clock.Now().Add(2 * time.Hour)
	return &claims.VisitWindow{Start: start, End: start.Add(time.Hour)}
}

func TestBookingHoldsUnitUntilExpiredBookingIsHidden(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	unit := h.importUnit(test, "B-0101", unitPrice, nil, nil)
	visit := upcomingVisit(h.clock)

	booking, err := h.book(test, unit, holderAlice, visit)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	if booking.Status != claims.BookingConfirmed {
		test.Fatalf("expected CONFIRMED booking, got %s", booking.Status)
	}
	expectedExpiry := visit.End.Add(30 * time.Minute)
	if booking.ExpiresAt == nil || !booking.ExpiresAt.Equal(expectedExpiry) {
		test.Fatalf("expected expiry %v, got %v", expectedExpiry, booking.ExpiresAt)
	}
	if status := h.unitStatus(test, unit); status != claims.UnitReservedBooking {
		test.Fatalf("expected RESERVED_BOOKING, got %s", status)
	}

	_, err = h.deposit(test, unit, holderBob, depositAmount, nil)
	expectError(test, err, claims.ErrClaimConflict)

	h.clock.Advance(3 * time.Hour)
	report, err := h.service.Sweep(ctx)
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if report.ExpiredCount != 0 {
		test.Fatalf("expected nothing to expire inside the grace period, got %+v", report)
	}

	h.clock.Advance(time.Hour)
	report, err = h.service.Sweep(ctx)
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if report.ExpiredCount != 1 {
		test.Fatalf("expected booking to expire, got %+v", report)
	}
	expired, err := h.service.GetBooking(ctx, booking.Code)
	if err != nil {
		test.Fatalf("get booking: %v", err)
	}
	if expired.Status != claims.BookingExpired || expired.Reason != "past visit window + grace period" {
		test.Fatalf("unexpected expired booking: %+v", expired)
	}
	if status := h.unitStatus(test, unit); status != claims.UnitReservedBooking {
		test.Fatalf("expected visible expired booking to keep the unit, got %s", status)
	}

	result := h.mustTransition(test, claims.KindBooking, booking.Code, claims.ActionHide, claims.TransitionInput{})
	if result.UnitStatus != claims.UnitAvailable || result.ClaimStatus != string(claims.BookingExpired) {
		test.Fatalf("expected hiding to free the unit, got %+v", result)
	}
	if _, err := h.deposit(test, unit, holderBob, depositAmount, nil); err != nil {
		test.Fatalf("deposit after hide: %v", err)
	}
}

func TestBookingApprovalRequiresVisitWindow(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	unit := h.importUnit(test, "B-0102", unitPrice, nil, nil)
	booking, err := h.book(test, unit, holderAlice, nil)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	if booking.Status != claims.BookingPendingApproval {
		test.Fatalf("expected PENDING_APPROVAL, got %s", booking.Status)
	}
	if status := h.unitStatus(test, unit); status != claims.UnitReservedBooking {
		test.Fatalf("expected pending booking to hold the unit, got %s", status)
	}

	_, err = h.transition(test, claims.KindBooking, booking.Code, claims.ActionApprove, claims.TransitionInput{Actor: approverName})
	expectError(test, err, claims.ErrValidation)

	visit := upcomingVisit(h.clock)
	result := h.mustTransition(test, claims.KindBooking, booking.Code, claims.ActionApprove, claims.TransitionInput{Actor: approverName, Visit: visit})
	if result.ClaimStatus != string(claims.BookingConfirmed) {
		test.Fatalf("expected CONFIRMED, got %s", result.ClaimStatus)
	}
	approved, err := h.service.GetBooking(context.Background(), booking.Code)
	if err != nil {
		test.Fatalf("get booking: %v", err)
	}
	if approved.ApprovedBy != approverName || approved.Visit == nil || !approved.Visit.End.Equal(visit.End) {
		test.Fatalf("unexpected approved booking: %+v", approved)
	}

	result = h.mustTransition(test, claims.KindBooking, booking.Code, claims.ActionComplete, claims.TransitionInput{})
	if result.ClaimStatus != string(claims.BookingCompleted) || result.UnitStatus != claims.UnitAvailable {
		test.Fatalf("expected completed booking to free the unit, got %+v", result)
	}
}

func TestBookingRejectsPastVisitWindow(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	unit := h.importUnit(test, "B-0103", unitPrice, nil, nil)
	past := h.clock.Now().Add(-3 * time.Hour)

	_, err := h.book(test, unit, holderAlice, &claims.VisitWindow{Start: past, End: past.Add(time.Hour)})
	expectError(test, err, claims.ErrValidation)

	_, err = h.book(test, unit, holderAlice, &claims.VisitWindow{Start: h.clock.Now().Add(2 * time.Hour), End: h.clock.Now().Add(time.Hour)})
	expectError(test, err, claims.ErrValidation)
}

func TestDepositCompletionEmitsCommissionOnce(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	project := &claims.Project{Code: "P-RIVER", Name: "Riverside", CommissionRateBps: bps(300)}
	unit := h.importUnit(test, "D-0101", unitPrice, nil, project)

	deposit, err := h.deposit(test, unit, holderAlice, depositAmount, nil)
	if err != nil {
		test.Fatalf("create deposit: %v", err)
	}
	if deposit.Status != claims.DepositPendingApproval || deposit.PercentageBps != 1000 {
		test.Fatalf("unexpected deposit: %+v", deposit)
	}
	if status := h.unitStatus(test, unit); status != claims.UnitDeposited {
		test.Fatalf("expected DEPOSITED, got %s", status)
	}

	_, err = h.transition(test, claims.KindDeposit, deposit.Code, claims.ActionApprove, claims.TransitionInput{})
	expectError(test, err, claims.ErrValidation)
	h.mustTransition(test, claims.KindDeposit, deposit.Code, claims.ActionApprove, claims.TransitionInput{Actor: approverName})

	result := h.mustTransition(test, claims.KindDeposit, deposit.Code, claims.ActionComplete, claims.TransitionInput{})
	if result.UnitStatus != claims.UnitSold || result.ClaimStatus != string(claims.DepositCompleted) {
		test.Fatalf("expected completed deposit on a sold unit, got %+v", result)
	}
	if result.Commission == nil || result.Commission.Amount != 60_000_000 || result.Commission.RateBps != 300 {
		test.Fatalf("expected project-rate commission, got %+v", result.Commission)
	}

	_, err = h.transition(test, claims.KindDeposit, deposit.Code, claims.ActionComplete, claims.TransitionInput{})
	expectError(test, err, claims.ErrDuplicateCommission)

	commission, err := h.service.GetCommission(ctx, deposit.Code)
	if err != nil {
		test.Fatalf("get commission: %v", err)
	}
	if commission.Code != result.Commission.Code || commission.HolderID != deposit.HolderID {
		test.Fatalf("unexpected stored commission: %+v", commission)
	}
	if emitted := h.publisher.ofType(claims.EventCommissionEmitted); len(emitted) != 1 {
		test.Fatalf("expected one commission.emitted event, got %d", len(emitted))
	}

	_, err = h.reserve(test, unit, holderBob, false)
	expectError(test, err, claims.ErrClaimConflict)
	_, err = h.transition(test, claims.KindDeposit, deposit.Code, claims.ActionCancel, claims.TransitionInput{})
	expectError(test, err, claims.ErrInvalidTransition)
	if status := h.unitStatus(test, unit); status != claims.UnitSold {
		test.Fatalf("expected unit to stay SOLD, got %s", status)
	}
}

func TestDepositCommissionRatePrecedence(test *testing.T) {
	test.Parallel()
	project := &claims.Project{Code: "P-HILL", Name: "Hillside", CommissionRateBps: bps(300)}
	testCases := []struct {
		name           string
		unitCode       string
		unitRate       *claims.BasisPoints
		project        *claims.Project
		expectedRate   claims.BasisPoints
		expectedAmount claims.Money
	}{
		{name: "unit rate wins", unitCode: "D-0201", unitRate: bps(150), project: project, expectedRate: 150, expectedAmount: 30_000_000},
		{name: "project rate", unitCode: "D-0202", project: project, expectedRate: 300, expectedAmount: 60_000_000},
		{name: "default rate", unitCode: "D-0203", expectedRate: 200, expectedAmount: 40_000_000},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			h := newHarness(test)
			unit := h.importUnit(test, testCase.unitCode, unitPrice, testCase.unitRate, testCase.project)
			deposit, err := h.deposit(test, unit, holderAlice, depositAmount, nil)
			if err != nil {
				test.Fatalf("create deposit: %v", err)
			}
			result := h.mustTransition(test, claims.KindDeposit, deposit.Code, claims.ActionComplete, claims.TransitionInput{})
			if result.Commission == nil {
				test.Fatalf("expected commission")
			}
			if result.Commission.RateBps != testCase.expectedRate || result.Commission.Amount != testCase.expectedAmount {
				test.Fatalf("expected %d bps / %d, got %+v", testCase.expectedRate, testCase.expectedAmount, result.Commission)
			}
		})
	}
}

func TestDepositValidatesAmount(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	unit := h.importUnit(test, "D-0301", unitPrice, nil, nil)

	_, err := h.deposit(test, unit, holderAlice, 0, nil)
	expectError(test, err, claims.ErrValidation)
	_, err = h.deposit(test, unit, holderAlice, unitPrice+1, nil)
	expectError(test, err, claims.ErrValidation)
	if status := h.unitStatus(test, unit); status != claims.UnitAvailable {
		test.Fatalf("expected AVAILABLE, got %s", status)
	}
}

func TestDepositConvertsHoldersReservation(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	unit := h.importUnit(test, "D-0401", unitPrice, nil, nil)
	reservation := h.mustReserve(test, unit, holderAlice, false)
	waiting := h.mustReserve(test, unit, holderCarol, true)

	_, err := h.deposit(test, unit, holderBob, depositAmount, &reservation.Code)
	expectError(test, err, claims.ErrClaimConflict)
	_, err = h.deposit(test, unit, holderAlice, depositAmount, nil)
	expectError(test, err, claims.ErrClaimConflict)

	deposit, err := h.deposit(test, unit, holderAlice, depositAmount, &reservation.Code)
	if err != nil {
		test.Fatalf("convert reservation: %v", err)
	}
	if deposit.SourceReservationCode != reservation.Code.String() {
		test.Fatalf("expected source reservation %s, got %q", reservation.Code.String(), deposit.SourceReservationCode)
	}
	converted, err := h.service.GetReservation(ctx, reservation.Code)
	if err != nil {
		test.Fatalf("get reservation: %v", err)
	}
	if converted.Status != claims.ReservationCompleted {
		test.Fatalf("expected converted reservation COMPLETED, got %s", converted.Status)
	}
	if status := h.unitStatus(test, unit); status != claims.UnitDeposited {
		test.Fatalf("expected DEPOSITED, got %s", status)
	}
	stillWaiting, _ := h.service.GetReservation(ctx, waiting.Code)
	if !stillWaiting.Waiting() {
		test.Fatalf("expected queued reservation to keep waiting behind the deposit, got %+v", stillWaiting)
	}

	result := h.mustTransition(test, claims.KindDeposit, deposit.Code, claims.ActionCancel, claims.TransitionInput{})
	if result.UnitStatus != claims.UnitReservedBooking {
		test.Fatalf("expected queue head to take over, got %s", result.UnitStatus)
	}
	promoted, _ := h.service.GetReservation(ctx, waiting.Code)
	if promoted.Status != claims.ReservationYourTurn {
		test.Fatalf("expected YOUR_TURN, got %s", promoted.Status)
	}
}

func TestConcurrentClaimsOnOneUnitAdmitOneWinner(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	unit := h.importUnit(test, "C-0101", unitPrice, nil, nil)
	const contenders = 8

	var waitGroup sync.WaitGroup
	start := make(chan struct{})
	results := make([]error, contenders)
	for index := 0; index < contenders; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			<-start
			holder := holderAlice
			if index%2 == 1 {
				holder = holderBob
			}
			if index%2 == 0 {
				_, results[index] = h.reserve(test, unit, holder, false)
				return
			}
			_, results[index] = h.deposit(test, unit, holder, depositAmount, nil)
		}(index)
	}
	close(start)
	waitGroup.Wait()

	winners := 0
	for index, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, claims.ErrClaimConflict):
		default:
			test.Fatalf("contender %d: unexpected error %v", index, err)
		}
	}
	if winners != 1 {
		test.Fatalf("expected exactly one winner, got %d", winners)
	}
	snapshot := h.snapshot(test, unit)
	if holders := countHolders(snapshot); holders != 1 {
		test.Fatalf("expected one holding claim, got %d", holders)
	}
}

func countHolders(snapshot claims.ClaimSnapshot) int {
	holders := 0
	for _, reservation := range snapshot.Reservations {
		if reservation.Holding() {
			holders++
		}
	}
	for _, booking := range snapshot.Bookings {
		if booking.Holding() {
			holders++
		}
	}
	for _, deposit := range snapshot.Deposits {
		if deposit.Holding() {
			holders++
		}
	}
	return holders
}

func TestBookingApprovalRejectsEndedVisitWindow(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	unit := h.importUnit(test, "B-0104", unitPrice, nil, nil)
	booking, err := h.book(test, unit, holderAlice, nil)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}

	past := h.clock.Now().Add(-3 * time.Hour)
	_, err = h.transition(test, claims.KindBooking, booking.Code, claims.ActionApprove, claims.TransitionInput{
		Actor: approverName,
		Visit: &claims.VisitWindow{Start: past, End: past.Add(time.Hour)},
	})
	expectError(test, err, claims.ErrValidation)

	pending, err := h.service.GetBooking(context.Background(), booking.Code)
	if err != nil {
		test.Fatalf("get booking: %v", err)
	}
	if pending.Status != claims.BookingPendingApproval || pending.Visit != nil {
		test.Fatalf("expected booking to stay pending without a visit, got %+v", pending)
	}
}

func TestCompletingDepositCancelsWaitingReservations(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	unit := h.importUnit(test, "D-0501", unitPrice, nil, nil)
	holding := h.mustReserve(test, unit, holderAlice, false)
	waiting := h.mustReserve(test, unit, holderBob, true)

	deposit, err := h.deposit(test, unit, holderAlice, depositAmount, &holding.Code)
	if err != nil {
		test.Fatalf("convert reservation: %v", err)
	}
	position, err := h.service.QueuePosition(ctx, waiting.Code)
	if err != nil {
		test.Fatalf("queue position: %v", err)
	}
	if position != 1 {
		test.Fatalf("expected waiting reservation first in queue behind the deposit, got %d", position)
	}

	h.clock.Advance(time.Hour)
	result := h.mustTransition(test, claims.KindDeposit, deposit.Code, claims.ActionComplete, claims.TransitionInput{})
	if result.UnitStatus != claims.UnitSold {
		test.Fatalf("expected SOLD, got %s", result.UnitStatus)
	}

	released, err := h.service.GetReservation(ctx, waiting.Code)
	if err != nil {
		test.Fatalf("get reservation: %v", err)
	}
	if released.Status != claims.ReservationCancelled || released.Queued || released.Reason != "unit sold" {
		test.Fatalf("expected waiting reservation cancelled by the sale, got %+v", released)
	}
	if !released.UpdatedAt.Equal(h.clock.Now()) {
		test.Fatalf("expected cancellation stamped at %v, got %v", h.clock.Now(), released.UpdatedAt)
	}
	position, err = h.service.QueuePosition(ctx, waiting.Code)
	if err != nil {
		test.Fatalf("queue position: %v", err)
	}
	if position != 0 {
		test.Fatalf("expected no queue position on a sold unit, got %d", position)
	}

	h.clock.Advance(48 * time.Hour)
	report, err := h.service.Sweep(ctx)
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if report.ExpiredCount != 0 || len(report.Failures) != 0 {
		test.Fatalf("expected nothing left to sweep on a sold unit, got %+v", report)
	}
}

func TestDepositCompletionRollsBackWhenCommissionFails(test *testing.T) {
	test.Parallel()
	faults := &storeFaults{}
	h := newHarnessWithFaults(test, faults)
	ctx := context.Background()
	unit := h.importUnit(test, "D-0601", unitPrice, nil, nil)
	deposit, err := h.deposit(test, unit, holderAlice, depositAmount, nil)
	if err != nil {
		test.Fatalf("create deposit: %v", err)
	}
	h.mustTransition(test, claims.KindDeposit, deposit.Code, claims.ActionApprove, claims.TransitionInput{Actor: approverName})

	faults.commissionErr = errors.New("commissions table unavailable")
	_, err = h.transition(test, claims.KindDeposit, deposit.Code, claims.ActionComplete, claims.TransitionInput{})
	if !errors.Is(err, faults.commissionErr) {
		test.Fatalf("expected commission write error, got %v", err)
	}

	stored, err := h.service.GetDeposit(ctx, deposit.Code)
	if err != nil {
		test.Fatalf("get deposit: %v", err)
	}
	if stored.Status != claims.DepositConfirmed || stored.CompletedAt != nil {
		test.Fatalf("expected deposit to stay CONFIRMED, got %+v", stored)
	}
	if status := h.unitStatus(test, unit); status != claims.UnitDeposited {
		test.Fatalf("expected unit to stay DEPOSITED, got %s", status)
	}
	_, err = h.service.GetCommission(ctx, deposit.Code)
	expectError(test, err, claims.ErrNotFound)
	if emitted := h.publisher.ofType(claims.EventCommissionEmitted); len(emitted) != 0 {
		test.Fatalf("expected no commission event after rollback, got %d", len(emitted))
	}

	faults.commissionErr = nil
	result := h.mustTransition(test, claims.KindDeposit, deposit.Code, claims.ActionComplete, claims.TransitionInput{})
	if result.UnitStatus != claims.UnitSold || result.Commission == nil {
		test.Fatalf("expected retry to sell the unit, got %+v", result)
	}
}
