package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Money is an integer amount in the smallest currency unit.
type Money int64

// Int64 returns the raw amount.
func (money Money) Int64() int64 {
	return int64(money)
}

// BasisPoints expresses a rate in hundredths of a percent.
type BasisPoints int64

const basisPointsScale = 10000

// Apply returns the share of money represented by the rate.
func (rate BasisPoints) Apply(money Money) Money {
	return Money(money.Int64() * int64(rate) / basisPointsScale)
}

// UnitCode identifies an inventory unit.
type UnitCode struct {
	value string
}

// ClaimCode identifies a reservation, booking or deposit.
type ClaimCode struct {
	value string
}

// HolderID identifies the collaborator who owns a claim.
type HolderID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUnitCode validates and normalizes a unit code.
func NewUnitCode(raw string) (UnitCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UnitCode{}, fmt.Errorf("%w: empty unit code", ErrValidation)
	}
	return UnitCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code UnitCode) String() string {
	return code.value
}

// NewClaimCode validates and normalizes a claim code.
func NewClaimCode(raw string) (ClaimCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClaimCode{}, fmt.Errorf("%w: empty claim code", ErrValidation)
	}
	return ClaimCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code ClaimCode) String() string {
	return code.value
}

// NewHolderID validates and normalizes a holder id.
func NewHolderID(raw string) (HolderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return HolderID{}, fmt.Errorf("%w: empty holder id", ErrValidation)
	}
	return HolderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id HolderID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: metadata must be valid json", ErrValidation)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

var phonePattern = regexp.MustCompile(`^(0|\+84)[0-9]{9,10}$`)

// ValidPhone reports whether raw looks like a Vietnamese mobile or landline number.
func ValidPhone(raw string) bool {
	return phonePattern.MatchString(strings.TrimSpace(raw))
}

// Customer is the contact captured on every claim.
type Customer struct {
	Name       string
	Phone      string
	Email      string
	NationalID string
}

// Validate checks the contact fields shared by every claim type.
func (customer Customer) Validate() error {
	if strings.TrimSpace(customer.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrValidation)
	}
	if !ValidPhone(customer.Phone) {
		return fmt.Errorf("%w: customer phone %q is not a valid phone number", ErrValidation, customer.Phone)
	}
	return nil
}

// ClaimKind names one of the three claim lifecycles.
type ClaimKind string

const (
	KindReservation ClaimKind = "reservation"
	KindBooking     ClaimKind = "booking"
	KindDeposit     ClaimKind = "deposit"
)

// ParseClaimKind validates a claim kind.
func ParseClaimKind(raw string) (ClaimKind, error) {
	switch kind := ClaimKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case KindReservation, KindBooking, KindDeposit:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown claim kind %q", ErrValidation, raw)
	}
}

// ClaimRef addresses a single claim.
type ClaimRef struct {
	Kind ClaimKind
	Code ClaimCode
}

// Action is a claim state change requested by a user or the sweeper.
type Action string

const (
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionExpire   Action = "expire"
	ActionHide     Action = "hide"
	ActionApprove  Action = "approve"
	ActionExtend   Action = "extend"
)

// UnitStatus is the derived availability of a unit.
type UnitStatus string

const (
	UnitAvailable       UnitStatus = "AVAILABLE"
	UnitReservedBooking UnitStatus = "RESERVED_BOOKING"
	UnitDeposited       UnitStatus = "DEPOSITED"
	UnitSold            UnitStatus = "SOLD"
)

// ParseUnitStatus validates a stored unit status.
func ParseUnitStatus(raw string) (UnitStatus, error) {
	switch status := UnitStatus(raw); status {
	case UnitAvailable, UnitReservedBooking, UnitDeposited, UnitSold:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown unit status %q", ErrValidation, raw)
	}
}

// Unit is an inventory unit.
type Unit struct {
	Code              UnitCode
	ProjectCode       string
	Price             Money
	CommissionRateBps *BasisPoints
	Status            UnitStatus
	Deleted           bool
}

// Project groups units and carries the fallback commission rate.
type Project struct {
	Code              string
	Name              string
	CommissionRateBps *BasisPoints
}

// ReservationStatus defines the reservation lifecycle.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationYourTurn  ReservationStatus = "YOUR_TURN"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationMissed    ReservationStatus = "MISSED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationCompleted ReservationStatus = "COMPLETED"
)

// ParseReservationStatus validates a stored reservation status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch status := ReservationStatus(raw); status {
	case ReservationActive, ReservationYourTurn, ReservationExpired, ReservationMissed, ReservationCancelled, ReservationCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown reservation status %q", ErrValidation, raw)
	}
}

// Terminal reports whether no further lifecycle change is possible.
func (status ReservationStatus) Terminal() bool {
	return status != ReservationActive && status != ReservationYourTurn
}

// Reservation is a queued hold on a unit.
type Reservation struct {
	Code          ClaimCode
	UnitCode      UnitCode
	HolderID      HolderID
	Customer      Customer
	Status        ReservationStatus
	ReservedUntil *time.Time
	Priority      int
	Queued        bool
	ExtendCount   int
	Hidden        bool
	Notes         string
	Reason        string
	Metadata      MetadataJSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Holding reports whether the reservation currently occupies its unit.
// Queued reservations wait behind the holder and only hold once promoted.
func (reservation Reservation) Holding() bool {
	switch reservation.Status {
	case ReservationYourTurn:
		return true
	case ReservationActive:
		return !reservation.Queued
	default:
		return false
	}
}

// Waiting reports whether the reservation sits in the unit's queue.
func (reservation Reservation) Waiting() bool {
	return reservation.Status == ReservationActive && reservation.Queued
}

// BookingStatus defines the viewing appointment lifecycle.
type BookingStatus string

const (
	BookingPendingApproval BookingStatus = "PENDING_APPROVAL"
	BookingConfirmed       BookingStatus = "CONFIRMED"
	BookingPendingPayment  BookingStatus = "PENDING_PAYMENT"
	BookingExpired         BookingStatus = "EXPIRED"
	BookingCancelled       BookingStatus = "CANCELLED"
	BookingCompleted       BookingStatus = "COMPLETED"
)

// ParseBookingStatus validates a stored booking status.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch status := BookingStatus(raw); status {
	case BookingPendingApproval, BookingConfirmed, BookingPendingPayment, BookingExpired, BookingCancelled, BookingCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown booking status %q", ErrValidation, raw)
	}
}

// Terminal reports whether no further lifecycle change is possible.
func (status BookingStatus) Terminal() bool {
	switch status {
	case BookingExpired, BookingCancelled, BookingCompleted:
		return true
	default:
		return false
	}
}

// VisitWindow is a scheduled viewing appointment.
type VisitWindow struct {
	Start time.Time
	End   time.Time
}

// Booking is a viewing appointment on a unit.
type Booking struct {
	Code        ClaimCode
	UnitCode    UnitCode
	HolderID    HolderID
	Customer    Customer
	Visit       *VisitWindow
	Status      BookingStatus
	ExpiresAt   *time.Time
	Hidden      bool
	Notes       string
	Reason      string
	Metadata    MetadataJSON
	ApprovedBy  string
	ApprovedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Holding reports whether the booking currently occupies its unit.
// An expired booking keeps the unit until its holder hides it.
func (booking Booking) Holding() bool {
	switch booking.Status {
	case BookingPendingApproval, BookingConfirmed, BookingPendingPayment:
		return true
	case BookingExpired:
		return !booking.Hidden
	default:
		return false
	}
}

// DepositStatus defines the deposit lifecycle.
type DepositStatus string

const (
	DepositPendingApproval DepositStatus = "PENDING_APPROVAL"
	DepositConfirmed       DepositStatus = "CONFIRMED"
	DepositCancelled       DepositStatus = "CANCELLED"
	DepositCompleted       DepositStatus = "COMPLETED"
	DepositOverdue         DepositStatus = "OVERDUE"
)

// ParseDepositStatus validates a stored deposit status.
func ParseDepositStatus(raw string) (DepositStatus, error) {
	switch status := DepositStatus(raw); status {
	case DepositPendingApproval, DepositConfirmed, DepositCancelled, DepositCompleted, DepositOverdue:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown deposit status %q", ErrValidation, raw)
	}
}

// Terminal reports whether no further lifecycle change is possible.
func (status DepositStatus) Terminal() bool {
	return status != DepositPendingApproval && status != DepositConfirmed
}

// Deposit is a paid hold that settles into a sale.
type Deposit struct {
	Code                  ClaimCode
	UnitCode              UnitCode
	HolderID              HolderID
	Customer              Customer
	Amount                Money
	PercentageBps         BasisPoints
	Status                DepositStatus
	ApprovedBy            string
	ApprovedAt            *time.Time
	CompletedAt           *time.Time
	Hidden                bool
	Notes                 string
	Reason                string
	Metadata              MetadataJSON
	SourceReservationCode string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Holding reports whether the deposit currently occupies its unit.
func (deposit Deposit) Holding() bool {
	return deposit.Status == DepositPendingApproval || deposit.Status == DepositConfirmed
}

// Commission is emitted once per completed deposit.
type Commission struct {
	Code        string
	DepositCode ClaimCode
	UnitCode    UnitCode
	HolderID    HolderID
	Amount      Money
	RateBps     BasisPoints
	CreatedAt   time.Time
}

// ClaimFilter narrows list queries.
type ClaimFilter struct {
	HolderID      string
	UnitCode      string
	IncludeHidden bool
	Limit         int
}

// Store is the persistence contract used by Service.
// Mutating methods are expected to run inside WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateUnit(ctx context.Context, unit Unit) error
	GetUnit(ctx context.Context, code UnitCode) (Unit, error)
	LockUnit(ctx context.Context, code UnitCode) (Unit, error)
	UpdateUnitStatus(ctx context.Context, code UnitCode, status UnitStatus, at time.Time) error
	UpsertProject(ctx context.Context, project Project) error
	ProjectCommissionRate(ctx context.Context, projectCode string) (*BasisPoints, error)

	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, code ClaimCode) (Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation, expected ReservationStatus) error
	ListUnitReservations(ctx context.Context, unit UnitCode) ([]Reservation, error)
	CountUnitReservations(ctx context.Context, unit UnitCode) (int, error)
	ListReservations(ctx context.Context, filter ClaimFilter) ([]Reservation, error)
	ListOverdueReservations(ctx context.Context, at time.Time) ([]Reservation, error)

	CreateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, code ClaimCode) (Booking, error)
	UpdateBooking(ctx context.Context, booking Booking, expected BookingStatus) error
	ListUnitBookings(ctx context.Context, unit UnitCode) ([]Booking, error)
	ListBookings(ctx context.Context, filter ClaimFilter) ([]Booking, error)
	ListOverdueBookings(ctx context.Context, at time.Time) ([]Booking, error)

	CreateDeposit(ctx context.Context, deposit Deposit) error
	GetDeposit(ctx context.Context, code ClaimCode) (Deposit, error)
	UpdateDeposit(ctx context.Context, deposit Deposit, expected DepositStatus) error
	ListUnitDeposits(ctx context.Context, unit UnitCode) ([]Deposit, error)
	ListDeposits(ctx context.Context, filter ClaimFilter) ([]Deposit, error)

	CreateCommission(ctx context.Context, commission Commission) error
	GetCommissionByDeposit(ctx context.Context, depositCode ClaimCode) (Commission, bool, error)
}
