package claims

import (
	"context"
	"errors"
	"sort"
)

// SweepFailure records a claim the sweeper could not expire.
type SweepFailure struct {
	Kind      ClaimKind
	ClaimCode string
	Error     string
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	ExpiredCount int
	ExpiredCodes []string
	Skipped      int
	Failures     []SweepFailure
}

type sweepCandidate struct {
	ref  ClaimRef
	unit UnitCode
}

// Sweep expires reservations past their hold deadline and confirmed bookings past
// their visit window plus grace. Per-claim failures are collected, never returned;
// only a failure to list candidates aborts the sweep. Safe to run concurrently.
func (service *Service) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{ExpiredCodes: []string{}, Failures: []SweepFailure{}}
	candidates, err := service.sweepCandidates(ctx)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationSweep, Error: err})
		return report, err
	}
	input := TransitionInput{Actor: systemActor}
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			report.Failures = append(report.Failures, SweepFailure{
				Kind:      candidate.ref.Kind,
				ClaimCode: candidate.ref.Code.String(),
				Error:     ctx.Err().Error(),
			})
			continue
		}
		_, expireErr := service.transitionOnUnit(ctx, candidate.unit, candidate.ref, ActionExpire, input)
		switch {
		case expireErr == nil:
			report.ExpiredCount++
			report.ExpiredCodes = append(report.ExpiredCodes, candidate.ref.Code.String())
		case errors.Is(expireErr, ErrInvalidTransition), errors.Is(expireErr, ErrStaleClaim):
			// already expired, extended or otherwise closed by a concurrent writer
			report.Skipped++
		default:
			report.Failures = append(report.Failures, SweepFailure{
				Kind:      candidate.ref.Kind,
				ClaimCode: candidate.ref.Code.String(),
				Error:     expireErr.Error(),
			})
		}
	}
	service.logOperation(ctx, OperationLog{Operation: operationSweep})
	return report, nil
}

func (service *Service) sweepCandidates(ctx context.Context) ([]sweepCandidate, error) {
	now := service.nowFn()
	reservations, err := service.store.ListOverdueReservations(ctx, now)
	if err != nil {
		return nil, err
	}
	bookings, err := service.store.ListOverdueBookings(ctx, now)
	if err != nil {
		return nil, err
	}
	candidates := make([]sweepCandidate, 0, len(reservations)+len(bookings))
	for _, reservation := range reservations {
		candidates = append(candidates, sweepCandidate{
			ref:  ClaimRef{Kind: KindReservation, Code: reservation.Code},
			unit: reservation.UnitCode,
		})
	}
	for _, booking := range bookings {
		candidates = append(candidates, sweepCandidate{
			ref:  ClaimRef{Kind: KindBooking, Code: booking.Code},
			unit: booking.UnitCode,
		})
	}
	sort.SliceStable(candidates, func(left, right int) bool {
		return candidates[left].unit.String() < candidates[right].unit.String()
	})
	return candidates, nil
}
