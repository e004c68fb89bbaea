package claims

import (
	"context"
	"fmt"
)

// ClaimSnapshot is every claim recorded against one unit.
type ClaimSnapshot struct {
	Reservations []Reservation
	Bookings     []Booking
	Deposits     []Deposit
}

// Evaluation is the unit status implied by a snapshot.
// Promote is set when the queue head must take over an otherwise free unit.
type Evaluation struct {
	Status  UnitStatus
	Promote *Reservation
}

// EvaluateUnit derives the unit status from its claims.
// Precedence: completed deposit, holding deposit, holding booking or reservation, queue head.
func EvaluateUnit(snapshot ClaimSnapshot) Evaluation {
	for _, deposit := range snapshot.Deposits {
		if deposit.Status == DepositCompleted {
			return Evaluation{Status: UnitSold}
		}
	}
	for _, deposit := range snapshot.Deposits {
		if deposit.Holding() {
			return Evaluation{Status: UnitDeposited}
		}
	}
	for _, booking := range snapshot.Bookings {
		if booking.Holding() {
			return Evaluation{Status: UnitReservedBooking}
		}
	}
	for _, reservation := range snapshot.Reservations {
		if reservation.Holding() {
			return Evaluation{Status: UnitReservedBooking}
		}
	}
	if head, ok := queueHead(snapshot.Reservations); ok {
		return Evaluation{Status: UnitReservedBooking, Promote: &head}
	}
	return Evaluation{Status: UnitAvailable}
}

// HasHolder reports whether any claim other than a waiting reservation occupies the unit.
func (snapshot ClaimSnapshot) HasHolder() bool {
	evaluation := EvaluateUnit(snapshot)
	return evaluation.Status != UnitAvailable && evaluation.Promote == nil
}

func (snapshot ClaimSnapshot) heldOnlyByReservations() bool {
	for _, deposit := range snapshot.Deposits {
		if deposit.Holding() || deposit.Status == DepositCompleted {
			return false
		}
	}
	for _, booking := range snapshot.Bookings {
		if booking.Holding() {
			return false
		}
	}
	for _, reservation := range snapshot.Reservations {
		if reservation.Holding() {
			return true
		}
	}
	return false
}

func (snapshot ClaimSnapshot) holderHasOpenReservation(holder HolderID) bool {
	for _, reservation := range snapshot.Reservations {
		if reservation.HolderID == holder && !reservation.Status.Terminal() {
			return true
		}
	}
	return false
}

func loadSnapshot(ctx context.Context, transactionStore Store, unit UnitCode) (ClaimSnapshot, error) {
	reservations, err := transactionStore.ListUnitReservations(ctx, unit)
	if err != nil {
		return ClaimSnapshot{}, err
	}
	bookings, err := transactionStore.ListUnitBookings(ctx, unit)
	if err != nil {
		return ClaimSnapshot{}, err
	}
	deposits, err := transactionStore.ListUnitDeposits(ctx, unit)
	if err != nil {
		return ClaimSnapshot{}, err
	}
	return ClaimSnapshot{Reservations: reservations, Bookings: bookings, Deposits: deposits}, nil
}

// ReevaluateUnit recomputes and persists the unit status from all of its claims.
func (service *Service) ReevaluateUnit(ctx context.Context, code UnitCode) (UnitStatus, error) {
	var status UnitStatus
	operationError := service.withUnit(ctx, code, func(ctx context.Context, transactionStore Store, unit Unit) error {
		var err error
		status, err = service.reevaluateLocked(ctx, transactionStore, unit)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationReevaluate,
		UnitCode:   code,
		UnitStatus: status,
		Error:      operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return status, nil
}

// reevaluateLocked must run inside withUnit.
func (service *Service) reevaluateLocked(ctx context.Context, transactionStore Store, unit Unit) (UnitStatus, error) {
	if unit.Status == UnitSold {
		return UnitSold, nil
	}
	snapshot, err := loadSnapshot(ctx, transactionStore, unit.Code)
	if err != nil {
		return "", err
	}
	evaluation := EvaluateUnit(snapshot)
	if evaluation.Promote != nil {
		if err := service.promote(ctx, transactionStore, *evaluation.Promote); err != nil {
			return "", err
		}
	}
	status := evaluation.Status
	if status == UnitSold {
		if err := service.releaseQueue(ctx, transactionStore, snapshot.Reservations); err != nil {
			return "", err
		}
	}
	if status != unit.Status {
		if err := transactionStore.UpdateUnitStatus(ctx, unit.Code, status, service.nowFn()); err != nil {
			return "", err
		}
	}
	return status, nil
}

func (service *Service) promote(ctx context.Context, transactionStore Store, reservation Reservation) error {
	now := service.nowFn()
	until := now.Add(service.policy.HoldWindow)
	reservation.Status = ReservationYourTurn
	reservation.Queued = false
	reservation.ReservedUntil = &until
	reservation.UpdatedAt = now
	return transactionStore.UpdateReservation(ctx, reservation, ReservationActive)
}

// releaseQueue cancels every reservation still waiting on a unit that has been sold.
func (service *Service) releaseQueue(ctx context.Context, transactionStore Store, reservations []Reservation) error {
	now := service.nowFn()
	for _, reservation := range reservations {
		if !reservation.Waiting() {
			continue
		}
		reservation.Status = ReservationCancelled
		reservation.Queued = false
		reservation.Reason = reasonUnitSold
		reservation.UpdatedAt = now
		if err := transactionStore.UpdateReservation(ctx, reservation, ReservationActive); err != nil {
			return err
		}
	}
	return nil
}

// withUnit runs fn under the unit lock and inside one transaction with the unit row locked.
func (service *Service) withUnit(ctx context.Context, code UnitCode, fn func(ctx context.Context, transactionStore Store, unit Unit) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, service.policy.LockTimeout)
	defer cancel()
	unlock, err := service.locker.Lock(lockCtx, code)
	if err != nil {
		return err
	}
	defer unlock()
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		unit, err := transactionStore.LockUnit(ctx, code)
		if err != nil {
			return err
		}
		if unit.Deleted {
			return fmt.Errorf("%w: unit %s", ErrNotFound, code.String())
		}
		return fn(ctx, transactionStore, unit)
	})
}
