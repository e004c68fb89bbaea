package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpHandler struct {
	coordinator Coordinator
	logger      *zap.Logger
	cfg         RouterConfig
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) handleGetUnit(ctx *gin.Context) {
	code, err := claims.NewUnitCode(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	unit, err := handler.coordinator.GetUnit(requestCtx, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newUnitPayload(unit))
}

func (handler *httpHandler) handleReevaluateUnit(ctx *gin.Context) {
	code, err := claims.NewUnitCode(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	status, err := handler.coordinator.ReevaluateUnit(requestCtx, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"code": code.String(), "status": string(status)})
}

func (handler *httpHandler) handleCreateReservation(ctx *gin.Context) {
	var request reservationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", describeBindError(err)))
		return
	}
	unitCode, holderID, err := parseClaimant(request.UnitCode, request.HolderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := marshalMetadata(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	reservation, err := handler.coordinator.CreateReservation(requestCtx, claims.ReservationRequest{
		UnitCode:  unitCode,
		HolderID:  holderID,
		Customer:  request.Customer.toDomain(),
		JoinQueue: request.JoinQueue,
		Notes:     request.Notes,
		Metadata:  metadata,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := newReservationPayload(reservation)
	if reservation.Waiting() {
		if position, positionErr := handler.coordinator.QueuePosition(requestCtx, reservation.Code); positionErr == nil {
			payload.QueuePosition = position
		}
	}
	ctx.JSON(http.StatusCreated, payload)
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	var request bookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", describeBindError(err)))
		return
	}
	unitCode, holderID, err := parseClaimant(request.UnitCode, request.HolderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := marshalMetadata(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.coordinator.CreateBooking(requestCtx, claims.BookingRequest{
		UnitCode: unitCode,
		HolderID: holderID,
		Customer: request.Customer.toDomain(),
		Visit:    visitWindow(request.VisitStart, request.VisitEnd),
		Notes:    request.Notes,
		Metadata: metadata,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newBookingPayload(booking))
}

func (handler *httpHandler) handleCreateDeposit(ctx *gin.Context) {
	var request depositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", describeBindError(err)))
		return
	}
	unitCode, holderID, err := parseClaimant(request.UnitCode, request.HolderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := marshalMetadata(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var source *claims.ClaimCode
	if strings.TrimSpace(request.SourceReservationCode) != "" {
		sourceCode, sourceErr := claims.NewClaimCode(request.SourceReservationCode)
		if sourceErr != nil {
			handler.respondError(ctx, sourceErr)
			return
		}
		source = &sourceCode
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deposit, err := handler.coordinator.CreateDeposit(requestCtx, claims.DepositRequest{
		UnitCode:          unitCode,
		HolderID:          holderID,
		Customer:          request.Customer.toDomain(),
		Amount:            claims.Money(request.Amount),
		SourceReservation: source,
		Notes:             request.Notes,
		Metadata:          metadata,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newDepositPayload(deposit))
}

func (handler *httpHandler) handleGetReservation(ctx *gin.Context) {
	code, err := claims.NewClaimCode(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	reservation, err := handler.coordinator.GetReservation(requestCtx, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := newReservationPayload(reservation)
	if reservation.Waiting() {
		position, positionErr := handler.coordinator.QueuePosition(requestCtx, code)
		if positionErr != nil {
			handler.respondError(ctx, positionErr)
			return
		}
		payload.QueuePosition = position
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	code, err := claims.NewClaimCode(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.coordinator.GetBooking(requestCtx, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newBookingPayload(booking))
}

func (handler *httpHandler) handleGetDeposit(ctx *gin.Context) {
	code, err := claims.NewClaimCode(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deposit, err := handler.coordinator.GetDeposit(requestCtx, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newDepositPayload(deposit))
}

func (handler *httpHandler) handleGetCommission(ctx *gin.Context) {
	code, err := claims.NewClaimCode(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	commission, err := handler.coordinator.GetCommission(requestCtx, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newCommissionPayload(commission))
}

func (handler *httpHandler) handleListReservations(ctx *gin.Context) {
	filter, err := parseFilter(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	reservations, err := handler.coordinator.ListReservations(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]reservationPayload, 0, len(reservations))
	for _, reservation := range reservations {
		payloads = append(payloads, newReservationPayload(reservation))
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": payloads})
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	filter, err := parseFilter(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookings, err := handler.coordinator.ListBookings(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]bookingPayload, 0, len(bookings))
	for _, booking := range bookings {
		payloads = append(payloads, newBookingPayload(booking))
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": payloads})
}

func (handler *httpHandler) handleListDeposits(ctx *gin.Context) {
	filter, err := parseFilter(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deposits, err := handler.coordinator.ListDeposits(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]depositPayload, 0, len(deposits))
	for _, deposit := range deposits {
		payloads = append(payloads, newDepositPayload(deposit))
	}
	ctx.JSON(http.StatusOK, gin.H{"deposits": payloads})
}

// transition builds the handler for one claim action route.
func (handler *httpHandler) transition(kind claims.ClaimKind, action claims.Action) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		code, err := claims.NewClaimCode(ctx.Param("code"))
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		var request transitionRequest
		if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", describeBindError(err)))
			return
		}

		requestCtx, cancel := handler.requestContext(ctx)
		defer cancel()
		result, err := handler.coordinator.Transition(requestCtx, claims.ClaimRef{Kind: kind, Code: code}, action, claims.TransitionInput{
			Reason: request.Reason,
			Actor:  request.Actor,
			Visit:  visitWindow(request.VisitStart, request.VisitEnd),
		})
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, newTransitionPayload(result))
	}
}

func (handler *httpHandler) handleSweep(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.coordinator.Sweep(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newSweepPayload(report))
}

// respondError maps domain failures onto HTTP statuses.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, claims.ErrNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, claims.ErrClaimConflict):
		ctx.JSON(http.StatusBadRequest, errorResponse("claim_conflict", err.Error()))
	case errors.Is(err, claims.ErrDuplicateCommission):
		ctx.JSON(http.StatusBadRequest, errorResponse("duplicate_commission", err.Error()))
	case errors.Is(err, claims.ErrInvalidTransition):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_transition", err.Error()))
	case errors.Is(err, claims.ErrValidation):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.Is(err, claims.ErrLockUnavailable), errors.Is(err, context.DeadlineExceeded):
		handler.logger.Warn("unit busy", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("unit_busy", "unit is busy, retry shortly"))
	default:
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "internal error"))
	}
}

func parseClaimant(rawUnit string, rawHolder string) (claims.UnitCode, claims.HolderID, error) {
	unitCode, err := claims.NewUnitCode(rawUnit)
	if err != nil {
		return claims.UnitCode{}, claims.HolderID{}, err
	}
	holderID, err := claims.NewHolderID(rawHolder)
	if err != nil {
		return claims.UnitCode{}, claims.HolderID{}, err
	}
	return unitCode, holderID, nil
}

func parseFilter(ctx *gin.Context) (claims.ClaimFilter, error) {
	filter := claims.ClaimFilter{
		HolderID: strings.TrimSpace(ctx.Query("holder_id")),
		UnitCode: strings.TrimSpace(ctx.Query("unit_code")),
	}
	if raw := ctx.Query("include_hidden"); raw != "" {
		includeHidden, err := strconv.ParseBool(raw)
		if err != nil {
			return claims.ClaimFilter{}, claims.WrapError("list", "include_hidden", "invalid_filter", errors.Join(claims.ErrValidation, err))
		}
		filter.IncludeHidden = includeHidden
	}
	if raw := ctx.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return claims.ClaimFilter{}, claims.WrapError("list", "limit", "invalid_filter", claims.ErrValidation)
		}
		filter.Limit = limit
	}
	return filter, nil
}
