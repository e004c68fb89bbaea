package claims_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
)

const (
	randomOperationCount = 300
	randomSeedHigh       = 20260302
	randomSeedLow        = 7
)

type trackedClaim struct {
	ref  claims.ClaimRef
	unit claims.UnitCode
}

var randomActions = []claims.Action{
	claims.ActionCancel,
	claims.ActionComplete,
	claims.ActionExpire,
	claims.ActionHide,
	claims.ActionApprove,
	claims.ActionExtend,
}

// Random operations must never leave a unit with two holders, a status that
// disagrees with its claims, or a completed deposit without exactly one commission.
func TestRandomOperationsPreserveUnitInvariants(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	random := rand.New(rand.NewPCG(randomSeedHigh, randomSeedLow))
	units := []claims.UnitCode{
		h.importUnit(test, "R-0001", unitPrice, nil, nil),
		h.importUnit(test, "R-0002", unitPrice, bps(120), nil),
		h.importUnit(test, "R-0003", unitPrice, nil, &claims.Project{Code: "P-RANDOM", CommissionRateBps: bps(250)}),
	}
	holders := []string{holderAlice, holderBob, holderCarol}
	var tracked []trackedClaim

	for step := 0; step < randomOperationCount; step++ {
		unit := units[random.IntN(len(units))]
		holder := holders[random.IntN(len(holders))]
		var err error
		description := ""
		switch operation := random.IntN(8); operation {
		case 0, 1:
			description = "reserve"
			var reservation claims.Reservation
			reservation, err = h.reserve(test, unit, holder, random.IntN(2) == 0)
			if err == nil {
				tracked = append(tracked, trackedClaim{ref: claims.ClaimRef{Kind: claims.KindReservation, Code: reservation.Code}, unit: unit})
			}
		case 2:
			description = "book"
			var visit *claims.VisitWindow
			if random.IntN(2) == 0 {
				visit = upcomingVisit(h.clock)
			}
			var booking claims.Booking
			booking, err = h.book(test, unit, holder, visit)
			if err == nil {
				tracked = append(tracked, trackedClaim{ref: claims.ClaimRef{Kind: claims.KindBooking, Code: booking.Code}, unit: unit})
			}
		case 3:
			description = "deposit"
			var source *claims.ClaimCode
			if len(tracked) > 0 && random.IntN(2) == 0 {
				candidate := tracked[random.IntN(len(tracked))]
				if candidate.ref.Kind == claims.KindReservation {
					source = &candidate.ref.Code
				}
			}
			var deposit claims.Deposit
			deposit, err = h.deposit(test, unit, holder, depositAmount, source)
			if err == nil {
				tracked = append(tracked, trackedClaim{ref: claims.ClaimRef{Kind: claims.KindDeposit, Code: deposit.Code}, unit: unit})
			}
		case 4, 5, 6:
			if len(tracked) == 0 {
				continue
			}
			candidate := tracked[random.IntN(len(tracked))]
			action := randomActions[random.IntN(len(randomActions))]
			description = fmt.Sprintf("%s %s", action, candidate.ref.Kind)
			input := claims.TransitionInput{Actor: approverName}
			if action == claims.ActionApprove && candidate.ref.Kind == claims.KindBooking {
				input.Visit = upcomingVisit(h.clock)
			}
			_, err = h.service.Transition(ctx, candidate.ref, action, input)
			unit = candidate.unit
		default:
			description = "advance and sweep"
			h.clock.Advance(time.Duration(1+random.IntN(30)) * time.Hour)
			_, err = h.service.Sweep(ctx)
		}
		if err != nil && !expectedDomainError(err) {
			test.Fatalf("step %d (%s): unexpected error %v", step, description, err)
		}
		for _, checked := range units {
			assertUnitInvariants(test, h, checked, fmt.Sprintf("step %d (%s)", step, description))
		}
	}
}

func expectedDomainError(err error) bool {
	for _, target := range []error{
		claims.ErrClaimConflict,
		claims.ErrInvalidTransition,
		claims.ErrDuplicateCommission,
		claims.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func assertUnitInvariants(test *testing.T, h *harness, unit claims.UnitCode, label string) {
	test.Helper()
	snapshot := h.snapshot(test, unit)
	status := h.unitStatus(test, unit)
	if holders := countHolders(snapshot); holders > 1 {
		test.Fatalf("%s: unit %s has %d holders", label, unit.String(), holders)
	}
	evaluation := claims.EvaluateUnit(snapshot)
	if evaluation.Promote != nil {
		test.Fatalf("%s: unit %s left queue head %s unpromoted", label, unit.String(), evaluation.Promote.Code.String())
	}
	if status != claims.UnitSold && evaluation.Status != status {
		test.Fatalf("%s: unit %s is %s but its claims imply %s", label, unit.String(), status, evaluation.Status)
	}
	for _, deposit := range snapshot.Deposits {
		_, found, err := h.store.GetCommissionByDeposit(context.Background(), deposit.Code)
		if err != nil {
			test.Fatalf("%s: commission lookup: %v", label, err)
		}
		if found != (deposit.Status == claims.DepositCompleted) {
			test.Fatalf("%s: deposit %s is %s but commission found=%t", label, deposit.Code.String(), deposit.Status, found)
		}
	}
}
