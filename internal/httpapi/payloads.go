package httpapi

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/gin-gonic/gin"
)

type customerPayload struct {
	Name       string `json:"name" binding:"required"`
	Phone      string `json:"phone" binding:"required,phone"`
	Email      string `json:"email" binding:"omitempty,email"`
	NationalID string `json:"national_id"`
}

type reservationRequest struct {
	UnitCode  string          `json:"unit_code" binding:"required"`
	HolderID  string          `json:"holder_id" binding:"required"`
	Customer  customerPayload `json:"customer"`
	JoinQueue bool            `json:"join_queue"`
	Notes     string          `json:"notes" binding:"max=2000"`
	Metadata  map[string]any  `json:"metadata"`
}

type bookingRequest struct {
	UnitCode   string          `json:"unit_code" binding:"required"`
	HolderID   string          `json:"holder_id" binding:"required"`
	Customer   customerPayload `json:"customer"`
	VisitStart *time.Time      `json:"visit_start" binding:"required_with=VisitEnd"`
	VisitEnd   *time.Time      `json:"visit_end" binding:"required_with=VisitStart"`
	Notes      string          `json:"notes" binding:"max=2000"`
	Metadata   map[string]any  `json:"metadata"`
}

type depositRequest struct {
	UnitCode              string          `json:"unit_code" binding:"required"`
	HolderID              string          `json:"holder_id" binding:"required"`
	Customer              customerPayload `json:"customer"`
	Amount                int64           `json:"amount" binding:"required,gt=0"`
	SourceReservationCode string          `json:"source_reservation_code"`
	Notes                 string          `json:"notes" binding:"max=2000"`
	Metadata              map[string]any  `json:"metadata"`
}

type transitionRequest struct {
	Reason     string     `json:"reason" binding:"max=500"`
	Actor      string     `json:"actor"`
	VisitStart *time.Time `json:"visit_start" binding:"required_with=VisitEnd"`
	VisitEnd   *time.Time `json:"visit_end" binding:"required_with=VisitStart"`
}

type unitPayload struct {
	Code              string `json:"code"`
	ProjectCode       string `json:"project_code"`
	Price             int64  `json:"price"`
	CommissionRateBps *int64 `json:"commission_rate_bps,omitempty"`
	Status            string `json:"status"`
}

type reservationPayload struct {
	Code          string          `json:"code"`
	UnitCode      string          `json:"unit_code"`
	HolderID      string          `json:"holder_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Status        string          `json:"status"`
	Queued        bool            `json:"queued"`
	QueuePosition int             `json:"queue_position,omitempty"`
	Priority      int             `json:"priority"`
	ReservedUntil *time.Time      `json:"reserved_until,omitempty"`
	ExtendCount   int             `json:"extend_count"`
	Hidden        bool            `json:"hidden"`
	Notes         string          `json:"notes,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type bookingPayload struct {
	Code          string          `json:"code"`
	UnitCode      string          `json:"unit_code"`
	HolderID      string          `json:"holder_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Status        string          `json:"status"`
	VisitStart    *time.Time      `json:"visit_start,omitempty"`
	VisitEnd      *time.Time      `json:"visit_end,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	ApprovedBy    string          `json:"approved_by,omitempty"`
	Hidden        bool            `json:"hidden"`
	Notes         string          `json:"notes,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type depositPayload struct {
	Code                  string          `json:"code"`
	UnitCode              string          `json:"unit_code"`
	HolderID              string          `json:"holder_id"`
	CustomerName          string          `json:"customer_name"`
	CustomerPhone         string          `json:"customer_phone"`
	Amount                int64           `json:"amount"`
	PercentageBps         int64           `json:"percentage_bps"`
	Status                string          `json:"status"`
	SourceReservationCode string          `json:"source_reservation_code,omitempty"`
	ApprovedBy            string          `json:"approved_by,omitempty"`
	Hidden                bool            `json:"hidden"`
	Notes                 string          `json:"notes,omitempty"`
	Reason                string          `json:"reason,omitempty"`
	Metadata              json.RawMessage `json:"metadata"`
	CreatedAt             time.Time       `json:"created_at"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
}

type commissionPayload struct {
	Code        string    `json:"code"`
	DepositCode string    `json:"deposit_code"`
	UnitCode    string    `json:"unit_code"`
	HolderID    string    `json:"holder_id"`
	Amount      int64     `json:"amount"`
	RateBps     int64     `json:"rate_bps"`
	CreatedAt   time.Time `json:"created_at"`
}

type transitionPayload struct {
	Kind       string             `json:"kind"`
	Code       string             `json:"code"`
	UnitCode   string             `json:"unit_code"`
	Status     string             `json:"status"`
	Hidden     bool               `json:"hidden"`
	UnitStatus string             `json:"unit_status"`
	Commission *commissionPayload `json:"commission,omitempty"`
}

type sweepFailurePayload struct {
	Kind  string `json:"kind"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type sweepPayload struct {
	ExpiredCount int                   `json:"expired_count"`
	ExpiredCodes []string              `json:"expired_codes"`
	Skipped      int                   `json:"skipped"`
	Failures     []sweepFailurePayload `json:"failures"`
}

func (customer customerPayload) toDomain() claims.Customer {
	return claims.Customer{
		Name:       customer.Name,
		Phone:      customer.Phone,
		Email:      customer.Email,
		NationalID: customer.NationalID,
	}
}

func visitWindow(start *time.Time, end *time.Time) *claims.VisitWindow {
	if start == nil || end == nil {
		return nil
	}
	return &claims.VisitWindow{Start: start.UTC(), End: end.UTC()}
}

func newUnitPayload(unit claims.Unit) unitPayload {
	payload := unitPayload{
		Code:        unit.Code.String(),
		ProjectCode: unit.ProjectCode,
		Price:       unit.Price.Int64(),
		Status:      string(unit.Status),
	}
	if unit.CommissionRateBps != nil {
		rate := int64(*unit.CommissionRateBps)
		payload.CommissionRateBps = &rate
	}
	return payload
}

func newReservationPayload(reservation claims.Reservation) reservationPayload {
	return reservationPayload{
		Code:          reservation.Code.String(),
		UnitCode:      reservation.UnitCode.String(),
		HolderID:      reservation.HolderID.String(),
		CustomerName:  reservation.Customer.Name,
		CustomerPhone: reservation.Customer.Phone,
		Status:        string(reservation.Status),
		Queued:        reservation.Queued,
		Priority:      reservation.Priority,
		ReservedUntil: reservation.ReservedUntil,
		ExtendCount:   reservation.ExtendCount,
		Hidden:        reservation.Hidden,
		Notes:         reservation.Notes,
		Reason:        reservation.Reason,
		Metadata:      json.RawMessage(reservation.Metadata.String()),
		CreatedAt:     reservation.CreatedAt,
		CompletedAt:   reservation.CompletedAt,
	}
}

func newBookingPayload(booking claims.Booking) bookingPayload {
	payload := bookingPayload{
		Code:          booking.Code.String(),
		UnitCode:      booking.UnitCode.String(),
		HolderID:      booking.HolderID.String(),
		CustomerName:  booking.Customer.Name,
		CustomerPhone: booking.Customer.Phone,
		Status:        string(booking.Status),
		ExpiresAt:     booking.ExpiresAt,
		ApprovedBy:    booking.ApprovedBy,
		Hidden:        booking.Hidden,
		Notes:         booking.Notes,
		Reason:        booking.Reason,
		Metadata:      json.RawMessage(booking.Metadata.String()),
		CreatedAt:     booking.CreatedAt,
		CompletedAt:   booking.CompletedAt,
	}
	if booking.Visit != nil {
		start, end := booking.Visit.Start, booking.Visit.End
		payload.VisitStart = &start
		payload.VisitEnd = &end
	}
	return payload
}

func newDepositPayload(deposit claims.Deposit) depositPayload {
	return depositPayload{
		Code:                  deposit.Code.String(),
		UnitCode:              deposit.UnitCode.String(),
		HolderID:              deposit.HolderID.String(),
		CustomerName:          deposit.Customer.Name,
		CustomerPhone:         deposit.Customer.Phone,
		Amount:                deposit.Amount.Int64(),
		PercentageBps:         int64(deposit.PercentageBps),
		Status:                string(deposit.Status),
		SourceReservationCode: deposit.SourceReservationCode,
		ApprovedBy:            deposit.ApprovedBy,
		Hidden:                deposit.Hidden,
		Notes:                 deposit.Notes,
		Reason:                deposit.Reason,
		Metadata:              json.RawMessage(deposit.Metadata.String()),
		CreatedAt:             deposit.CreatedAt,
		CompletedAt:           deposit.CompletedAt,
	}
}

func newCommissionPayload(commission claims.Commission) commissionPayload {
	return commissionPayload{
		Code:        commission.Code,
		DepositCode: commission.DepositCode.String(),
		UnitCode:    commission.UnitCode.String(),
		HolderID:    commission.HolderID.String(),
		Amount:      commission.Amount.Int64(),
		RateBps:     int64(commission.RateBps),
		CreatedAt:   commission.CreatedAt,
	}
}

func newTransitionPayload(result claims.TransitionResult) transitionPayload {
	payload := transitionPayload{
		Kind:       string(result.Kind),
		Code:       result.ClaimCode.String(),
		UnitCode:   result.UnitCode.String(),
		Status:     result.ClaimStatus,
		Hidden:     result.Hidden,
		UnitStatus: string(result.UnitStatus),
	}
	if result.Commission != nil {
		commission := newCommissionPayload(*result.Commission)
		payload.Commission = &commission
	}
	return payload
}

func newSweepPayload(report claims.SweepReport) sweepPayload {
	payload := sweepPayload{
		ExpiredCount: report.ExpiredCount,
		ExpiredCodes: report.ExpiredCodes,
		Skipped:      report.Skipped,
		Failures:     make([]sweepFailurePayload, 0, len(report.Failures)),
	}
	if payload.ExpiredCodes == nil {
		payload.ExpiredCodes = []string{}
	}
	for _, failure := range report.Failures {
		payload.Failures = append(payload.Failures, sweepFailurePayload{
			Kind:  string(failure.Kind),
			Code:  failure.ClaimCode,
			Error: failure.Error,
		})
	}
	return payload
}

func marshalMetadata(metadata map[string]any) (claims.MetadataJSON, error) {
	if metadata == nil {
		return claims.NewMetadataJSON("")
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return claims.MetadataJSON{}, err
	}
	return claims.NewMetadataJSON(string(raw))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
