package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransitionInput carries the optional details of a transition.
type TransitionInput struct {
	Reason string
	Actor  string
	Visit  *VisitWindow
}

// TransitionResult reports the claim and unit state after a committed transition.
type TransitionResult struct {
	Kind        ClaimKind
	ClaimCode   ClaimCode
	UnitCode    UnitCode
	HolderID    HolderID
	ClaimStatus string
	Hidden      bool
	UnitStatus  UnitStatus
	Commission  *Commission
}

// Transition applies action to a claim and re-evaluates its unit in the same transaction.
func (service *Service) Transition(ctx context.Context, ref ClaimRef, action Action, input TransitionInput) (TransitionResult, error) {
	unitCode, operationError := service.claimUnit(ctx, ref)
	if operationError != nil {
		service.logTransition(ctx, ref, action, TransitionResult{}, operationError)
		return TransitionResult{}, operationError
	}
	return service.transitionOnUnit(ctx, unitCode, ref, action, input)
}

func (service *Service) transitionOnUnit(ctx context.Context, unitCode UnitCode, ref ClaimRef, action Action, input TransitionInput) (TransitionResult, error) {
	var result TransitionResult
	operationError := service.withUnit(ctx, unitCode, func(ctx context.Context, transactionStore Store, unit Unit) error {
		var err error
		switch ref.Kind {
		case KindReservation:
			result, err = service.transitionReservation(ctx, transactionStore, ref.Code, action, input)
		case KindBooking:
			result, err = service.transitionBooking(ctx, transactionStore, ref.Code, action, input)
		case KindDeposit:
			result, err = service.transitionDeposit(ctx, transactionStore, unit, ref.Code, action, input)
		default:
			err = fmt.Errorf("%w: unknown claim kind %q", ErrValidation, ref.Kind)
		}
		if err != nil {
			return err
		}
		if result.UnitCode != unit.Code {
			return fmt.Errorf("%w: %s %s moved off unit %s", ErrStaleClaim, ref.Kind, ref.Code.String(), unit.Code.String())
		}
		result.UnitStatus, err = service.reevaluateLocked(ctx, transactionStore, unit)
		return err
	})
	service.logTransition(ctx, ref, action, result, operationError)
	if operationError != nil {
		return TransitionResult{}, operationError
	}
	service.publish(ctx, Event{
		Type:        EventClaimTransitioned,
		Kind:        result.Kind,
		ClaimCode:   result.ClaimCode.String(),
		UnitCode:    result.UnitCode.String(),
		HolderID:    result.HolderID.String(),
		Action:      action,
		ClaimStatus: result.ClaimStatus,
		UnitStatus:  result.UnitStatus,
	})
	if result.Commission != nil {
		service.publish(ctx, Event{
			Type:        EventCommissionEmitted,
			Kind:        KindDeposit,
			ClaimCode:   result.ClaimCode.String(),
			UnitCode:    result.UnitCode.String(),
			HolderID:    result.HolderID.String(),
			Action:      action,
			ClaimStatus: result.ClaimStatus,
			UnitStatus:  result.UnitStatus,
			Commission:  result.Commission,
		})
	}
	return result, nil
}

func (service *Service) claimUnit(ctx context.Context, ref ClaimRef) (UnitCode, error) {
	switch ref.Kind {
	case KindReservation:
		reservation, err := service.store.GetReservation(ctx, ref.Code)
		return reservation.UnitCode, err
	case KindBooking:
		booking, err := service.store.GetBooking(ctx, ref.Code)
		return booking.UnitCode, err
	case KindDeposit:
		deposit, err := service.store.GetDeposit(ctx, ref.Code)
		return deposit.UnitCode, err
	default:
		return UnitCode{}, fmt.Errorf("%w: unknown claim kind %q", ErrValidation, ref.Kind)
	}
}

func (service *Service) transitionReservation(ctx context.Context, transactionStore Store, code ClaimCode, action Action, input TransitionInput) (TransitionResult, error) {
	reservation, err := transactionStore.GetReservation(ctx, code)
	if err != nil {
		return TransitionResult{}, err
	}
	prior := reservation.Status
	now := service.nowFn()
	rejected := invalidTransition(KindReservation, code, action, string(prior))
	switch action {
	case ActionCancel:
		if prior.Terminal() {
			return TransitionResult{}, rejected
		}
		reservation.Status = ReservationCancelled
		reservation.Reason = reasonOrDefault(input.Reason, reasonCancelledByHolder)
	case ActionComplete:
		if !reservation.Holding() {
			return TransitionResult{}, rejected
		}
		reservation.Status = ReservationCompleted
		reservation.CompletedAt = &now
	case ActionExpire:
		if !reservation.Holding() || !deadlinePassed(reservation.ReservedUntil, now) {
			return TransitionResult{}, rejected
		}
		if prior == ReservationYourTurn {
			reservation.Status = ReservationMissed
			reservation.Reason = reasonMissedTurn
		} else {
			reservation.Status = ReservationExpired
			reservation.Reason = reasonPastHoldWindow
		}
	case ActionHide:
		if !prior.Terminal() {
			return TransitionResult{}, rejected
		}
		reservation.Hidden = true
	case ActionExtend:
		if !reservation.Holding() {
			return TransitionResult{}, rejected
		}
		if service.policy.MaxExtensions < 0 || reservation.ExtendCount >= service.policy.MaxExtensions {
			return TransitionResult{}, fmt.Errorf("%w: reservation %s reached the extension limit", ErrInvalidTransition, code.String())
		}
		base := now
		if reservation.ReservedUntil != nil && reservation.ReservedUntil.After(now) {
			base = *reservation.ReservedUntil
		}
		until := base.Add(service.policy.HoldWindow)
		reservation.ReservedUntil = &until
		reservation.ExtendCount++
	default:
		return TransitionResult{}, rejected
	}
	reservation.UpdatedAt = now
	if err := transactionStore.UpdateReservation(ctx, reservation, prior); err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{
		Kind:        KindReservation,
		ClaimCode:   reservation.Code,
		UnitCode:    reservation.UnitCode,
		HolderID:    reservation.HolderID,
		ClaimStatus: string(reservation.Status),
		Hidden:      reservation.Hidden,
	}, nil
}

func (service *Service) transitionBooking(ctx context.Context, transactionStore Store, code ClaimCode, action Action, input TransitionInput) (TransitionResult, error) {
	booking, err := transactionStore.GetBooking(ctx, code)
	if err != nil {
		return TransitionResult{}, err
	}
	prior := booking.Status
	now := service.nowFn()
	rejected := invalidTransition(KindBooking, code, action, string(prior))
	switch action {
	case ActionApprove:
		if prior != BookingPendingApproval {
			return TransitionResult{}, rejected
		}
		if input.Visit != nil {
			visit := *input.Visit
			booking.Visit = &visit
		}
		if booking.Visit == nil || !booking.Visit.Start.Before(booking.Visit.End) {
			return TransitionResult{}, fmt.Errorf("%w: approving booking %s requires a visit window", ErrValidation, code.String())
		}
		if !booking.Visit.End.After(now) {
			return TransitionResult{}, fmt.Errorf("%w: visit window for booking %s has already ended", ErrValidation, code.String())
		}
		expiresAt := booking.Visit.End.Add(service.policy.BookingGrace)
		booking.Status = BookingConfirmed
		booking.ExpiresAt = &expiresAt
		booking.ApprovedBy = actorOrSystem(input.Actor)
		booking.ApprovedAt = &now
	case ActionCancel:
		if prior.Terminal() {
			return TransitionResult{}, rejected
		}
		booking.Status = BookingCancelled
		booking.Reason = reasonOrDefault(input.Reason, reasonCancelledByHolder)
	case ActionComplete:
		if prior.Terminal() {
			return TransitionResult{}, rejected
		}
		booking.Status = BookingCompleted
		booking.CompletedAt = &now
	case ActionExpire:
		if prior != BookingConfirmed || !deadlinePassed(booking.ExpiresAt, now) {
			return TransitionResult{}, rejected
		}
		booking.Status = BookingExpired
		booking.Reason = reasonPastVisitWindow
	case ActionHide:
		if !prior.Terminal() {
			return TransitionResult{}, rejected
		}
		booking.Hidden = true
	default:
		return TransitionResult{}, rejected
	}
	booking.UpdatedAt = now
	if err := transactionStore.UpdateBooking(ctx, booking, prior); err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{
		Kind:        KindBooking,
		ClaimCode:   booking.Code,
		UnitCode:    booking.UnitCode,
		HolderID:    booking.HolderID,
		ClaimStatus: string(booking.Status),
		Hidden:      booking.Hidden,
	}, nil
}

func (service *Service) transitionDeposit(ctx context.Context, transactionStore Store, unit Unit, code ClaimCode, action Action, input TransitionInput) (TransitionResult, error) {
	deposit, err := transactionStore.GetDeposit(ctx, code)
	if err != nil {
		return TransitionResult{}, err
	}
	prior := deposit.Status
	now := service.nowFn()
	rejected := invalidTransition(KindDeposit, code, action, string(prior))
	var commission *Commission
	switch action {
	case ActionApprove:
		if prior != DepositPendingApproval {
			return TransitionResult{}, rejected
		}
		if strings.TrimSpace(input.Actor) == "" {
			return TransitionResult{}, fmt.Errorf("%w: approving deposit %s requires an approver", ErrValidation, code.String())
		}
		deposit.Status = DepositConfirmed
		deposit.ApprovedBy = strings.TrimSpace(input.Actor)
		deposit.ApprovedAt = &now
	case ActionCancel:
		if prior.Terminal() {
			return TransitionResult{}, rejected
		}
		deposit.Status = DepositCancelled
		deposit.Reason = reasonOrDefault(input.Reason, reasonCancelledByHolder)
	case ActionComplete:
		_, exists, err := transactionStore.GetCommissionByDeposit(ctx, code)
		if err != nil {
			return TransitionResult{}, err
		}
		if exists {
			return TransitionResult{}, fmt.Errorf("%w: deposit %s already produced a commission", ErrDuplicateCommission, code.String())
		}
		if prior.Terminal() {
			return TransitionResult{}, rejected
		}
		deposit.Status = DepositCompleted
		deposit.CompletedAt = &now
		emitted, err := service.buildCommission(ctx, transactionStore, unit, deposit, now)
		if err != nil {
			return TransitionResult{}, err
		}
		commission = &emitted
	case ActionHide:
		if !prior.Terminal() {
			return TransitionResult{}, rejected
		}
		deposit.Hidden = true
	default:
		return TransitionResult{}, rejected
	}
	deposit.UpdatedAt = now
	if err := transactionStore.UpdateDeposit(ctx, deposit, prior); err != nil {
		return TransitionResult{}, err
	}
	if commission != nil {
		if err := transactionStore.CreateCommission(ctx, *commission); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return TransitionResult{}, fmt.Errorf("%w: deposit %s already produced a commission", ErrDuplicateCommission, code.String())
			}
			return TransitionResult{}, err
		}
	}
	return TransitionResult{
		Kind:        KindDeposit,
		ClaimCode:   deposit.Code,
		UnitCode:    deposit.UnitCode,
		HolderID:    deposit.HolderID,
		ClaimStatus: string(deposit.Status),
		Hidden:      deposit.Hidden,
		Commission:  commission,
	}, nil
}

func (service *Service) logTransition(ctx context.Context, ref ClaimRef, action Action, result TransitionResult, operationError error) {
	service.logOperation(ctx, OperationLog{
		Operation:   operationTransition,
		Kind:        ref.Kind,
		ClaimCode:   ref.Code,
		UnitCode:    result.UnitCode,
		HolderID:    result.HolderID,
		Action:      action,
		ClaimStatus: result.ClaimStatus,
		UnitStatus:  result.UnitStatus,
		Error:       operationError,
	})
}

func deadlinePassed(deadline *time.Time, now time.Time) bool {
	return deadline != nil && now.After(*deadline)
}

func reasonOrDefault(reason string, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return fallback
}

func actorOrSystem(actor string) string {
	if trimmed := strings.TrimSpace(actor); trimmed != "" {
		return trimmed
	}
	return systemActor
}
