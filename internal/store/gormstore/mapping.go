package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
)

func mapUnit(row Unit) (claims.Unit, error) {
	code, err := claims.NewUnitCode(row.Code)
	if err != nil {
		return claims.Unit{}, err
	}
	status, err := claims.ParseUnitStatus(row.Status)
	if err != nil {
		return claims.Unit{}, err
	}
	return claims.Unit{
		Code:              code,
		ProjectCode:       row.ProjectCode,
		Price:             claims.Money(row.PriceAmount),
		CommissionRateBps: basisPointsPointer(row.CommissionRateBps),
		Status:            status,
		Deleted:           row.Deleted,
	}, nil
}

type claimIdentity struct {
	code     claims.ClaimCode
	unit     claims.UnitCode
	holder   claims.HolderID
	metadata claims.MetadataJSON
}

func mapIdentity(code string, unit string, holder string, metadata []byte) (claimIdentity, error) {
	claimCode, err := claims.NewClaimCode(code)
	if err != nil {
		return claimIdentity{}, err
	}
	unitCode, err := claims.NewUnitCode(unit)
	if err != nil {
		return claimIdentity{}, err
	}
	holderID, err := claims.NewHolderID(holder)
	if err != nil {
		return claimIdentity{}, err
	}
	metadataJSON, err := claims.NewMetadataJSON(string(metadata))
	if err != nil {
		return claimIdentity{}, err
	}
	return claimIdentity{code: claimCode, unit: unitCode, holder: holderID, metadata: metadataJSON}, nil
}

func reservationModel(reservation claims.Reservation) Reservation {
	return Reservation{
		Code:          reservation.Code.String(),
		UnitCode:      reservation.UnitCode.String(),
		HolderID:      reservation.HolderID.String(),
		CustomerName:  reservation.Customer.Name,
		CustomerPhone: reservation.Customer.Phone,
		CustomerEmail: reservation.Customer.Email,
		Status:        string(reservation.Status),
		ReservedUntil: utcPointer(reservation.ReservedUntil),
		Priority:      reservation.Priority,
		Queued:        reservation.Queued,
		ExtendCount:   reservation.ExtendCount,
		Hidden:        reservation.Hidden,
		Notes:         reservation.Notes,
		Reason:        reservation.Reason,
		Metadata:      datatypesJSON(reservation.Metadata.String()),
		CompletedAt:   utcPointer(reservation.CompletedAt),
		CreatedAt:     timestampOrNow(reservation.CreatedAt),
		UpdatedAt:     updatedAtOrCreated(reservation.UpdatedAt, reservation.CreatedAt),
	}
}

func mapReservation(row Reservation) (claims.Reservation, error) {
	identity, err := mapIdentity(row.Code, row.UnitCode, row.HolderID, row.Metadata)
	if err != nil {
		return claims.Reservation{}, err
	}
	status, err := claims.ParseReservationStatus(row.Status)
	if err != nil {
		return claims.Reservation{}, err
	}
	return claims.Reservation{
		Code:     identity.code,
		UnitCode: identity.unit,
		HolderID: identity.holder,
		Customer: claims.Customer{
			Name:  row.CustomerName,
			Phone: row.CustomerPhone,
			Email: row.CustomerEmail,
		},
		Status:        status,
		ReservedUntil: utcPointer(row.ReservedUntil),
		Priority:      row.Priority,
		Queued:        row.Queued,
		ExtendCount:   row.ExtendCount,
		Hidden:        row.Hidden,
		Notes:         row.Notes,
		Reason:        row.Reason,
		Metadata:      identity.metadata,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		CompletedAt:   utcPointer(row.CompletedAt),
	}, nil
}

func mapReservations(rows []Reservation) ([]claims.Reservation, error) {
	reservations := make([]claims.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func bookingModel(booking claims.Booking) Booking {
	model := Booking{
		Code:          booking.Code.String(),
		UnitCode:      booking.UnitCode.String(),
		HolderID:      booking.HolderID.String(),
		CustomerName:  booking.Customer.Name,
		CustomerPhone: booking.Customer.Phone,
		CustomerEmail: booking.Customer.Email,
		Status:        string(booking.Status),
		ExpiresAt:     utcPointer(booking.ExpiresAt),
		Hidden:        booking.Hidden,
		Notes:         booking.Notes,
		Reason:        booking.Reason,
		Metadata:      datatypesJSON(booking.Metadata.String()),
		ApprovedBy:    booking.ApprovedBy,
		ApprovedAt:    utcPointer(booking.ApprovedAt),
		CompletedAt:   utcPointer(booking.CompletedAt),
		CreatedAt:     timestampOrNow(booking.CreatedAt),
		UpdatedAt:     updatedAtOrCreated(booking.UpdatedAt, booking.CreatedAt),
	}
	if booking.Visit != nil {
		model.VisitStart = utcPointer(&booking.Visit.Start)
		model.VisitEnd = utcPointer(&booking.Visit.End)
	}
	return model
}

func mapBooking(row Booking) (claims.Booking, error) {
	identity, err := mapIdentity(row.Code, row.UnitCode, row.HolderID, row.Metadata)
	if err != nil {
		return claims.Booking{}, err
	}
	status, err := claims.ParseBookingStatus(row.Status)
	if err != nil {
		return claims.Booking{}, err
	}
	booking := claims.Booking{
		Code:     identity.code,
		UnitCode: identity.unit,
		HolderID: identity.holder,
		Customer: claims.Customer{
			Name:  row.CustomerName,
			Phone: row.CustomerPhone,
			Email: row.CustomerEmail,
		},
		Status:      status,
		ExpiresAt:   utcPointer(row.ExpiresAt),
		Hidden:      row.Hidden,
		Notes:       row.Notes,
		Reason:      row.Reason,
		Metadata:    identity.metadata,
		ApprovedBy:  row.ApprovedBy,
		ApprovedAt:  utcPointer(row.ApprovedAt),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
		CompletedAt: utcPointer(row.CompletedAt),
	}
	if row.VisitStart != nil && row.VisitEnd != nil {
		booking.Visit = &claims.VisitWindow{Start: row.VisitStart.UTC(), End: row.VisitEnd.UTC()}
	}
	return booking, nil
}

func mapBookings(rows []Booking) ([]claims.Booking, error) {
	bookings := make([]claims.Booking, 0, len(rows))
	for _, row := range rows {
		booking, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

func depositModel(deposit claims.Deposit) Deposit {
	return Deposit{
		Code:                  deposit.Code.String(),
		UnitCode:              deposit.UnitCode.String(),
		HolderID:              deposit.HolderID.String(),
		CustomerName:          deposit.Customer.Name,
		CustomerPhone:         deposit.Customer.Phone,
		CustomerEmail:         deposit.Customer.Email,
		CustomerNationalID:    deposit.Customer.NationalID,
		DepositAmount:         deposit.Amount.Int64(),
		DepositPercentageBps:  int64(deposit.PercentageBps),
		Status:                string(deposit.Status),
		ApprovedBy:            deposit.ApprovedBy,
		ApprovedAt:            utcPointer(deposit.ApprovedAt),
		CompletedAt:           utcPointer(deposit.CompletedAt),
		Hidden:                deposit.Hidden,
		Notes:                 deposit.Notes,
		Reason:                deposit.Reason,
		Metadata:              datatypesJSON(deposit.Metadata.String()),
		SourceReservationCode: deposit.SourceReservationCode,
		CreatedAt:             timestampOrNow(deposit.CreatedAt),
		UpdatedAt:             updatedAtOrCreated(deposit.UpdatedAt, deposit.CreatedAt),
	}
}

func mapDeposit(row Deposit) (claims.Deposit, error) {
	identity, err := mapIdentity(row.Code, row.UnitCode, row.HolderID, row.Metadata)
	if err != nil {
		return claims.Deposit{}, err
	}
	status, err := claims.ParseDepositStatus(row.Status)
	if err != nil {
		return claims.Deposit{}, err
	}
	return claims.Deposit{
		Code:     identity.code,
		UnitCode: identity.unit,
		HolderID: identity.holder,
		Customer: claims.Customer{
			Name:       row.CustomerName,
			Phone:      row.CustomerPhone,
			Email:      row.CustomerEmail,
			NationalID: row.CustomerNationalID,
		},
		Amount:                claims.Money(row.DepositAmount),
		PercentageBps:         claims.BasisPoints(row.DepositPercentageBps),
		Status:                status,
		ApprovedBy:            row.ApprovedBy,
		ApprovedAt:            utcPointer(row.ApprovedAt),
		CompletedAt:           utcPointer(row.CompletedAt),
		Hidden:                row.Hidden,
		Notes:                 row.Notes,
		Reason:                row.Reason,
		Metadata:              identity.metadata,
		SourceReservationCode: row.SourceReservationCode,
		CreatedAt:             row.CreatedAt.UTC(),
		UpdatedAt:             row.UpdatedAt.UTC(),
	}, nil
}

func mapDeposits(rows []Deposit) ([]claims.Deposit, error) {
	deposits := make([]claims.Deposit, 0, len(rows))
	for _, row := range rows {
		deposit, err := mapDeposit(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDeposit, errorCodeInvalid, err)
		}
		deposits = append(deposits, deposit)
	}
	return deposits, nil
}

func mapCommission(row Commission) (claims.Commission, error) {
	depositCode, err := claims.NewClaimCode(row.DepositCode)
	if err != nil {
		return claims.Commission{}, err
	}
	unitCode, err := claims.NewUnitCode(row.UnitCode)
	if err != nil {
		return claims.Commission{}, err
	}
	holderID, err := claims.NewHolderID(row.HolderID)
	if err != nil {
		return claims.Commission{}, err
	}
	return claims.Commission{
		Code:        row.Code,
		DepositCode: depositCode,
		UnitCode:    unitCode,
		HolderID:    holderID,
		Amount:      claims.Money(row.Amount),
		RateBps:     claims.BasisPoints(row.RateBps),
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

func timestampOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func updatedAtOrCreated(updatedAt time.Time, createdAt time.Time) time.Time {
	if updatedAt.IsZero() {
		return timestampOrNow(createdAt)
	}
	return updatedAt.UTC()
}
