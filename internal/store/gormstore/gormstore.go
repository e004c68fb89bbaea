package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = "{}"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectUnit        = "unit"
	errorSubjectProject     = "project"
	errorSubjectReservation = "reservation"
	errorSubjectBooking     = "booking"
	errorSubjectDeposit     = "deposit"
	errorSubjectCommission  = "commission"
	errorCodeCount          = "count"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeMigrate        = "migrate"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
	errorCodeUpsert         = "upsert"
)

// Store implements claims.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every claims table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return wrapStoreError("schema", errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore claims.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateUnit(ctx context.Context, unit claims.Unit) error {
	model := Unit{
		Code:              unit.Code.String(),
		ProjectCode:       unit.ProjectCode,
		PriceAmount:       unit.Price.Int64(),
		CommissionRateBps: ratePointer(unit.CommissionRateBps),
		Status:            string(unit.Status),
		Deleted:           unit.Deleted,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectUnit, errorCodeDuplicate, claims.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectUnit, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetUnit(ctx context.Context, code claims.UnitCode) (claims.Unit, error) {
	return store.findUnit(store.db.WithContext(ctx), code, errorCodeGet)
}

// LockUnit reads the unit row with SELECT ... FOR UPDATE. SQLite ignores the
// locking clause and relies on its single-writer transactions instead.
func (store *Store) LockUnit(ctx context.Context, code claims.UnitCode) (claims.Unit, error) {
	return store.findUnit(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), code, errorCodeLock)
}

func (store *Store) findUnit(query *gorm.DB, code claims.UnitCode, errorCode string) (claims.Unit, error) {
	var model Unit
	err := query.Where("code = ?", code.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return claims.Unit{}, wrapStoreError(errorSubjectUnit, errorCode, claims.ErrNotFound)
		}
		return claims.Unit{}, wrapStoreError(errorSubjectUnit, errorCode, err)
	}
	unit, err := mapUnit(model)
	if err != nil {
		return claims.Unit{}, wrapStoreError(errorSubjectUnit, errorCodeInvalid, err)
	}
	return unit, nil
}

func (store *Store) UpdateUnitStatus(ctx context.Context, code claims.UnitCode, status claims.UnitStatus, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Unit{}).
		Where("code = ?", code.String()).
		Updates(map[string]any{"status": string(status), "updated_at": timestampOrNow(at)})
	if result.Error != nil {
		return wrapStoreError(errorSubjectUnit, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUnit, errorCodeUpdateStatus, claims.ErrNotFound)
	}
	return nil
}

func (store *Store) UpsertProject(ctx context.Context, project claims.Project) error {
	model := Project{
		Code:              project.Code,
		Name:              project.Name,
		CommissionRateBps: ratePointer(project.CommissionRateBps),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "commission_rate_bps", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectProject, errorCodeUpsert, err)
	}
	return nil
}

// ProjectCommissionRate returns nil when the project is unknown or has no rate.
func (store *Store) ProjectCommissionRate(ctx context.Context, projectCode string) (*claims.BasisPoints, error) {
	var model Project
	err := store.db.WithContext(ctx).Where("code = ?", projectCode).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectProject, errorCodeGet, err)
	}
	return basisPointsPointer(model.CommissionRateBps), nil
}

func (store *Store) CreateReservation(ctx context.Context, reservation claims.Reservation) error {
	model := reservationModel(reservation)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, claims.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, code claims.ClaimCode) (claims.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).Where("code = ?", code.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return claims.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, claims.ErrNotFound)
		}
		return claims.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return claims.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

// UpdateReservation writes the mutable fields only while the row still has the expected status.
func (store *Store) UpdateReservation(ctx context.Context, reservation claims.Reservation, expected claims.ReservationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("code = ? AND status = ?", reservation.Code.String(), string(expected)).
		Updates(map[string]any{
			"status":         string(reservation.Status),
			"reserved_until": utcPointer(reservation.ReservedUntil),
			"queued":         reservation.Queued,
			"extend_count":   reservation.ExtendCount,
			"hidden":         reservation.Hidden,
			"notes":          reservation.Notes,
			"reason":         reservation.Reason,
			"completed_at":   utcPointer(reservation.CompletedAt),
			"updated_at":     timestampOrNow(reservation.UpdatedAt),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, claims.ErrStaleClaim)
	}
	return nil
}

func (store *Store) ListUnitReservations(ctx context.Context, unit claims.UnitCode) ([]claims.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("unit_code = ?", unit.String()).
		Order("priority ASC, created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) CountUnitReservations(ctx context.Context, unit claims.UnitCode) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).Model(&Reservation{}).Where("unit_code = ?", unit.String()).Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectReservation, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) ListReservations(ctx context.Context, filter claims.ClaimFilter) ([]claims.Reservation, error) {
	var rows []Reservation
	err := applyFilter(store.db.WithContext(ctx), filter).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

// ListOverdueReservations returns holding reservations whose deadline is before at.
func (store *Store) ListOverdueReservations(ctx context.Context, at time.Time) ([]claims.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("status IN ? AND queued = ?", []string{string(claims.ReservationActive), string(claims.ReservationYourTurn)}, false).
		Where("reserved_until IS NOT NULL AND reserved_until < ?", at.UTC()).
		Order("reserved_until ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) CreateBooking(ctx context.Context, booking claims.Booking) error {
	model := bookingModel(booking)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, claims.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, code claims.ClaimCode) (claims.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).Where("code = ?", code.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return claims.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, claims.ErrNotFound)
		}
		return claims.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	booking, err := mapBooking(model)
	if err != nil {
		return claims.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return booking, nil
}

func (store *Store) UpdateBooking(ctx context.Context, booking claims.Booking, expected claims.BookingStatus) error {
	var visitStart, visitEnd *time.Time
	if booking.Visit != nil {
		visitStart = utcPointer(&booking.Visit.Start)
		visitEnd = utcPointer(&booking.Visit.End)
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("code = ? AND status = ?", booking.Code.String(), string(expected)).
		Updates(map[string]any{
			"status":       string(booking.Status),
			"visit_start":  visitStart,
			"visit_end":    visitEnd,
			"expires_at":   utcPointer(booking.ExpiresAt),
			"hidden":       booking.Hidden,
			"notes":        booking.Notes,
			"reason":       booking.Reason,
			"approved_by":  booking.ApprovedBy,
			"approved_at":  utcPointer(booking.ApprovedAt),
			"completed_at": utcPointer(booking.CompletedAt),
			"updated_at":   timestampOrNow(booking.UpdatedAt),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, claims.ErrStaleClaim)
	}
	return nil
}

func (store *Store) ListUnitBookings(ctx context.Context, unit claims.UnitCode) ([]claims.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("unit_code = ?", unit.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

func (store *Store) ListBookings(ctx context.Context, filter claims.ClaimFilter) ([]claims.Booking, error) {
	var rows []Booking
	err := applyFilter(store.db.WithContext(ctx), filter).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

// ListOverdueBookings returns confirmed bookings whose visit window plus grace ended before at.
func (store *Store) ListOverdueBookings(ctx context.Context, at time.Time) ([]claims.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("status = ?", string(claims.BookingConfirmed)).
		Where("expires_at IS NOT NULL AND expires_at < ?", at.UTC()).
		Order("expires_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

func (store *Store) CreateDeposit(ctx context.Context, deposit claims.Deposit) error {
	model := depositModel(deposit)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectDeposit, errorCodeDuplicate, claims.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDeposit, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetDeposit(ctx context.Context, code claims.ClaimCode) (claims.Deposit, error) {
	var model Deposit
	err := store.db.WithContext(ctx).Where("code = ?", code.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return claims.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeGet, claims.ErrNotFound)
		}
		return claims.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeGet, err)
	}
	deposit, err := mapDeposit(model)
	if err != nil {
		return claims.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeInvalid, err)
	}
	return deposit, nil
}

func (store *Store) UpdateDeposit(ctx context.Context, deposit claims.Deposit, expected claims.DepositStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Deposit{}).
		Where("code = ? AND status = ?", deposit.Code.String(), string(expected)).
		Updates(map[string]any{
			"status":       string(deposit.Status),
			"approved_by":  deposit.ApprovedBy,
			"approved_at":  utcPointer(deposit.ApprovedAt),
			"completed_at": utcPointer(deposit.CompletedAt),
			"hidden":       deposit.Hidden,
			"notes":        deposit.Notes,
			"reason":       deposit.Reason,
			"updated_at":   timestampOrNow(deposit.UpdatedAt),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDeposit, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDeposit, errorCodeUpdate, claims.ErrStaleClaim)
	}
	return nil
}

func (store *Store) ListUnitDeposits(ctx context.Context, unit claims.UnitCode) ([]claims.Deposit, error) {
	var rows []Deposit
	err := store.db.WithContext(ctx).
		Where("unit_code = ?", unit.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDeposit, errorCodeList, err)
	}
	return mapDeposits(rows)
}

func (store *Store) ListDeposits(ctx context.Context, filter claims.ClaimFilter) ([]claims.Deposit, error) {
	var rows []Deposit
	err := applyFilter(store.db.WithContext(ctx), filter).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDeposit, errorCodeList, err)
	}
	return mapDeposits(rows)
}

func (store *Store) CreateCommission(ctx context.Context, commission claims.Commission) error {
	model := Commission{
		Code:        commission.Code,
		DepositCode: commission.DepositCode.String(),
		UnitCode:    commission.UnitCode.String(),
		HolderID:    commission.HolderID.String(),
		Amount:      commission.Amount.Int64(),
		RateBps:     int64(commission.RateBps),
		CreatedAt:   commission.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectCommission, errorCodeDuplicate, claims.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetCommissionByDeposit(ctx context.Context, depositCode claims.ClaimCode) (claims.Commission, bool, error) {
	var model Commission
	err := store.db.WithContext(ctx).Where("deposit_code = ?", depositCode.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return claims.Commission{}, false, nil
	}
	if err != nil {
		return claims.Commission{}, false, wrapStoreError(errorSubjectCommission, errorCodeGet, err)
	}
	commission, err := mapCommission(model)
	if err != nil {
		return claims.Commission{}, false, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
	}
	return commission, true, nil
}

func applyFilter(query *gorm.DB, filter claims.ClaimFilter) *gorm.DB {
	if filter.HolderID != "" {
		query = query.Where("holder_id = ?", filter.HolderID)
	}
	if filter.UnitCode != "" {
		query = query.Where("unit_code = ?", filter.UnitCode)
	}
	if !filter.IncludeHidden {
		query = query.Where("hidden = ?", false)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return query.Order("created_at DESC")
}

func wrapStoreError(subject string, code string, err error) error {
	return claims.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func ratePointer(rate *claims.BasisPoints) *int64 {
	if rate == nil {
		return nil
	}
	value := int64(*rate)
	return &value
}

func basisPointsPointer(value *int64) *claims.BasisPoints {
	if value == nil {
		return nil
	}
	rate := claims.BasisPoints(*value)
	return &rate
}
