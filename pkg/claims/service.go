package claims

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the claim coordinator over a Store.
type Service struct {
	store     Store
	nowFn     func() time.Time
	logger    OperationLogger
	publisher EventPublisher
	locker    UnitLocker
	policy    Policy
	codeFn    func(prefix string) string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:     store,
		nowFn:     now,
		publisher: nopPublisher{},
		locker:    NewLocalLocker(),
		policy:    DefaultPolicy(),
		codeFn:    generateCode,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.locker == nil {
		return nil, fmt.Errorf("%w: unit locker is nil", ErrInvalidServiceConfig)
	}
	if service.publisher == nil {
		service.publisher = nopPublisher{}
	}
	if service.codeFn == nil {
		service.codeFn = generateCode
	}
	return service, nil
}

// Policy returns the effective policy.
func (service *Service) Policy() Policy {
	return service.policy
}

// ReservationRequest asks for a hold on a unit.
type ReservationRequest struct {
	UnitCode  UnitCode
	HolderID  HolderID
	Customer  Customer
	JoinQueue bool
	Notes     string
	Metadata  MetadataJSON
}

// BookingRequest asks for a viewing appointment.
type BookingRequest struct {
	UnitCode UnitCode
	HolderID HolderID
	Customer Customer
	Visit    *VisitWindow
	Notes    string
	Metadata MetadataJSON
}

// DepositRequest asks for a deposit on a unit, optionally converting the holder's reservation.
type DepositRequest struct {
	UnitCode          UnitCode
	HolderID          HolderID
	Customer          Customer
	Amount            Money
	SourceReservation *ClaimCode
	Notes             string
	Metadata          MetadataJSON
}

// CreateReservation places an ACTIVE reservation on an available unit,
// or queues it behind the current reserver when JoinQueue is set.
func (service *Service) CreateReservation(ctx context.Context, request ReservationRequest) (Reservation, error) {
	var created Reservation
	var unitStatus UnitStatus
	operationError := validateClaimant(request.HolderID, request.Customer)
	if operationError == nil {
		operationError = service.withUnit(ctx, request.UnitCode, func(ctx context.Context, transactionStore Store, unit Unit) error {
			snapshot, err := loadSnapshot(ctx, transactionStore, unit.Code)
			if err != nil {
				return err
			}
			if unit.Status == UnitSold {
				return fmt.Errorf("%w: unit %s is sold", ErrClaimConflict, unit.Code.String())
			}
			priority, err := transactionStore.CountUnitReservations(ctx, unit.Code)
			if err != nil {
				return err
			}
			now := service.nowFn()
			created = Reservation{
				Code:      mustClaimCode(service.codeFn(codePrefixReservation)),
				UnitCode:  unit.Code,
				HolderID:  request.HolderID,
				Customer:  request.Customer,
				Status:    ReservationActive,
				Priority:  priority,
				Notes:     request.Notes,
				Metadata:  request.Metadata,
				CreatedAt: now,
			}
			switch evaluation := EvaluateUnit(snapshot); {
			case evaluation.Status == UnitAvailable:
				until := now.Add(service.policy.HoldWindow)
				created.ReservedUntil = &until
			case request.JoinQueue && snapshot.heldOnlyByReservations():
				if snapshot.holderHasOpenReservation(request.HolderID) {
					return fmt.Errorf("%w: holder %s already reserved unit %s", ErrClaimConflict, request.HolderID.String(), unit.Code.String())
				}
				created.Queued = true
			default:
				return fmt.Errorf("%w: unit %s is %s", ErrClaimConflict, unit.Code.String(), evaluation.Status)
			}
			if err := transactionStore.CreateReservation(ctx, created); err != nil {
				return err
			}
			unitStatus, err = service.reevaluateLocked(ctx, transactionStore, unit)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationCreate,
		Kind:        KindReservation,
		ClaimCode:   created.Code,
		UnitCode:    request.UnitCode,
		HolderID:    request.HolderID,
		ClaimStatus: string(created.Status),
		UnitStatus:  unitStatus,
		Error:       operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	service.publish(ctx, Event{
		Type:        EventClaimCreated,
		Kind:        KindReservation,
		ClaimCode:   created.Code.String(),
		UnitCode:    created.UnitCode.String(),
		HolderID:    created.HolderID.String(),
		ClaimStatus: string(created.Status),
		UnitStatus:  unitStatus,
	})
	return created, nil
}

// CreateBooking schedules a viewing on an available unit. Bookings with a visit
// window start CONFIRMED; without one they wait for approval.
func (service *Service) CreateBooking(ctx context.Context, request BookingRequest) (Booking, error) {
	var created Booking
	var unitStatus UnitStatus
	operationError := service.validateBooking(request)
	if operationError == nil {
		operationError = service.withUnit(ctx, request.UnitCode, func(ctx context.Context, transactionStore Store, unit Unit) error {
			snapshot, err := loadSnapshot(ctx, transactionStore, unit.Code)
			if err != nil {
				return err
			}
			if evaluation := EvaluateUnit(snapshot); unit.Status == UnitSold || evaluation.Status != UnitAvailable {
				return fmt.Errorf("%w: unit %s is %s", ErrClaimConflict, unit.Code.String(), conflictStatus(unit.Status, evaluation.Status))
			}
			created = Booking{
				Code:      mustClaimCode(service.codeFn(codePrefixBooking)),
				UnitCode:  unit.Code,
				HolderID:  request.HolderID,
				Customer:  request.Customer,
				Status:    BookingPendingApproval,
				Notes:     request.Notes,
				Metadata:  request.Metadata,
				CreatedAt: service.nowFn(),
			}
			if request.Visit != nil {
				visit := *request.Visit
				expiresAt := visit.End.Add(service.policy.BookingGrace)
				created.Visit = &visit
				created.ExpiresAt = &expiresAt
				created.Status = BookingConfirmed
			}
			if err := transactionStore.CreateBooking(ctx, created); err != nil {
				return err
			}
			unitStatus, err = service.reevaluateLocked(ctx, transactionStore, unit)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationCreate,
		Kind:        KindBooking,
		ClaimCode:   created.Code,
		UnitCode:    request.UnitCode,
		HolderID:    request.HolderID,
		ClaimStatus: string(created.Status),
		UnitStatus:  unitStatus,
		Error:       operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.publish(ctx, Event{
		Type:        EventClaimCreated,
		Kind:        KindBooking,
		ClaimCode:   created.Code.String(),
		UnitCode:    created.UnitCode.String(),
		HolderID:    created.HolderID.String(),
		ClaimStatus: string(created.Status),
		UnitStatus:  unitStatus,
	})
	return created, nil
}

// CreateDeposit records a PENDING_APPROVAL deposit. The unit must be available,
// unless the deposit converts the holder's own reservation on it.
func (service *Service) CreateDeposit(ctx context.Context, request DepositRequest) (Deposit, error) {
	var created Deposit
	var unitStatus UnitStatus
	operationError := validateClaimant(request.HolderID, request.Customer)
	if operationError == nil && request.Amount <= 0 {
		operationError = fmt.Errorf("%w: deposit amount must be greater than zero", ErrValidation)
	}
	if operationError == nil {
		operationError = service.withUnit(ctx, request.UnitCode, func(ctx context.Context, transactionStore Store, unit Unit) error {
			if unit.Status == UnitSold {
				return fmt.Errorf("%w: unit %s is sold", ErrClaimConflict, unit.Code.String())
			}
			if request.Amount > unit.Price {
				return fmt.Errorf("%w: deposit amount %d exceeds unit price %d", ErrValidation, request.Amount, unit.Price)
			}
			if request.SourceReservation != nil {
				if err := service.convertReservation(ctx, transactionStore, unit, request); err != nil {
					return err
				}
			}
			snapshot, err := loadSnapshot(ctx, transactionStore, unit.Code)
			if err != nil {
				return err
			}
			if request.SourceReservation != nil {
				if snapshot.HasHolder() {
					return fmt.Errorf("%w: unit %s is still held by another claim", ErrClaimConflict, unit.Code.String())
				}
			} else if evaluation := EvaluateUnit(snapshot); evaluation.Status != UnitAvailable {
				return fmt.Errorf("%w: unit %s is %s", ErrClaimConflict, unit.Code.String(), evaluation.Status)
			}
			created = Deposit{
				Code:          mustClaimCode(service.codeFn(codePrefixDeposit)),
				UnitCode:      unit.Code,
				HolderID:      request.HolderID,
				Customer:      request.Customer,
				Amount:        request.Amount,
				PercentageBps: BasisPoints(request.Amount.Int64() * basisPointsScale / unit.Price.Int64()),
				Status:        DepositPendingApproval,
				Notes:         request.Notes,
				Metadata:      request.Metadata,
				CreatedAt:     service.nowFn(),
			}
			if request.SourceReservation != nil {
				created.SourceReservationCode = request.SourceReservation.String()
			}
			if err := transactionStore.CreateDeposit(ctx, created); err != nil {
				return err
			}
			unitStatus, err = service.reevaluateLocked(ctx, transactionStore, unit)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationCreate,
		Kind:        KindDeposit,
		ClaimCode:   created.Code,
		UnitCode:    request.UnitCode,
		HolderID:    request.HolderID,
		ClaimStatus: string(created.Status),
		UnitStatus:  unitStatus,
		Error:       operationError,
	})
	if operationError != nil {
		return Deposit{}, operationError
	}
	service.publish(ctx, Event{
		Type:        EventClaimCreated,
		Kind:        KindDeposit,
		ClaimCode:   created.Code.String(),
		UnitCode:    created.UnitCode.String(),
		HolderID:    created.HolderID.String(),
		ClaimStatus: string(created.Status),
		UnitStatus:  unitStatus,
	})
	return created, nil
}

func (service *Service) convertReservation(ctx context.Context, transactionStore Store, unit Unit, request DepositRequest) error {
	reservation, err := transactionStore.GetReservation(ctx, *request.SourceReservation)
	if err != nil {
		return err
	}
	if reservation.UnitCode != unit.Code || reservation.HolderID != request.HolderID {
		return fmt.Errorf("%w: reservation %s does not belong to holder %s on unit %s", ErrClaimConflict, reservation.Code.String(), request.HolderID.String(), unit.Code.String())
	}
	if !reservation.Holding() {
		return fmt.Errorf("%w: reservation %s is not holding unit %s", ErrClaimConflict, reservation.Code.String(), unit.Code.String())
	}
	prior := reservation.Status
	completedAt := service.nowFn()
	reservation.Status = ReservationCompleted
	reservation.Reason = reasonConvertedDeposit
	reservation.CompletedAt = &completedAt
	reservation.UpdatedAt = completedAt
	return transactionStore.UpdateReservation(ctx, reservation, prior)
}

func (service *Service) validateBooking(request BookingRequest) error {
	if err := validateClaimant(request.HolderID, request.Customer); err != nil {
		return err
	}
	if request.Visit == nil {
		return nil
	}
	if !request.Visit.Start.Before(request.Visit.End) {
		return fmt.Errorf("%w: visit start must be before visit end", ErrValidation)
	}
	if !request.Visit.End.After(service.nowFn()) {
		return fmt.Errorf("%w: visit window already ended", ErrValidation)
	}
	return nil
}

func validateClaimant(holder HolderID, customer Customer) error {
	if holder.String() == "" {
		return fmt.Errorf("%w: holder id is required", ErrValidation)
	}
	return customer.Validate()
}

// ImportUnits creates inventory units as AVAILABLE. Existing codes fail with ErrAlreadyExists.
func (service *Service) ImportUnits(ctx context.Context, projects []Project, units []Unit) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		for _, project := range projects {
			if strings.TrimSpace(project.Code) == "" {
				return fmt.Errorf("%w: empty project code", ErrValidation)
			}
			if err := transactionStore.UpsertProject(ctx, project); err != nil {
				return err
			}
		}
		for _, unit := range units {
			if unit.Price <= 0 {
				return fmt.Errorf("%w: unit %s must have a positive price", ErrValidation, unit.Code.String())
			}
			unit.Status = UnitAvailable
			unit.Deleted = false
			if err := transactionStore.CreateUnit(ctx, unit); err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationImport,
		Error:     operationError,
	})
	return operationError
}

// GetUnit returns a non-deleted unit.
func (service *Service) GetUnit(ctx context.Context, code UnitCode) (Unit, error) {
	unit, err := service.store.GetUnit(ctx, code)
	if err != nil {
		return Unit{}, err
	}
	if unit.Deleted {
		return Unit{}, fmt.Errorf("%w: unit %s", ErrNotFound, code.String())
	}
	return unit, nil
}

// GetReservation returns a reservation by code.
func (service *Service) GetReservation(ctx context.Context, code ClaimCode) (Reservation, error) {
	return service.store.GetReservation(ctx, code)
}

// GetBooking returns a booking by code.
func (service *Service) GetBooking(ctx context.Context, code ClaimCode) (Booking, error) {
	return service.store.GetBooking(ctx, code)
}

// GetDeposit returns a deposit by code.
func (service *Service) GetDeposit(ctx context.Context, code ClaimCode) (Deposit, error) {
	return service.store.GetDeposit(ctx, code)
}

// GetCommission returns the commission emitted for a deposit.
func (service *Service) GetCommission(ctx context.Context, depositCode ClaimCode) (Commission, error) {
	commission, found, err := service.store.GetCommissionByDeposit(ctx, depositCode)
	if err != nil {
		return Commission{}, err
	}
	if !found {
		return Commission{}, fmt.Errorf("%w: commission for deposit %s", ErrNotFound, depositCode.String())
	}
	return commission, nil
}

// ListReservations lists reservations matching filter.
func (service *Service) ListReservations(ctx context.Context, filter ClaimFilter) ([]Reservation, error) {
	return service.store.ListReservations(ctx, normalizeFilter(filter))
}

// ListBookings lists bookings matching filter.
func (service *Service) ListBookings(ctx context.Context, filter ClaimFilter) ([]Booking, error) {
	return service.store.ListBookings(ctx, normalizeFilter(filter))
}

// ListDeposits lists deposits matching filter.
func (service *Service) ListDeposits(ctx context.Context, filter ClaimFilter) ([]Deposit, error) {
	return service.store.ListDeposits(ctx, normalizeFilter(filter))
}

// QueuePosition reports the waiting position of a reservation on its unit.
func (service *Service) QueuePosition(ctx context.Context, code ClaimCode) (int, error) {
	reservation, err := service.store.GetReservation(ctx, code)
	if err != nil {
		return 0, err
	}
	reservations, err := service.store.ListUnitReservations(ctx, reservation.UnitCode)
	if err != nil {
		return 0, err
	}
	return QueuePosition(reservations, code), nil
}

func normalizeFilter(filter ClaimFilter) ClaimFilter {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return filter
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// publish runs after commit; a failed publication never undoes the change.
func (service *Service) publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = service.nowFn()
	}
	if err := service.publisher.Publish(ctx, event); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:   operationPublish,
			Kind:        event.Kind,
			ClaimCode:   ClaimCode{value: event.ClaimCode},
			UnitCode:    UnitCode{value: event.UnitCode},
			Action:      event.Action,
			ClaimStatus: event.ClaimStatus,
			UnitStatus:  event.UnitStatus,
			Error:       err,
		})
	}
}

func generateCode(prefix string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func mustClaimCode(raw string) ClaimCode {
	return ClaimCode{value: strings.TrimSpace(raw)}
}

func conflictStatus(values ...UnitStatus) UnitStatus {
	for _, value := range values {
		if value != "" && value != UnitAvailable {
			return value
		}
	}
	return UnitAvailable
}
