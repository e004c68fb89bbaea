// Package httpapi exposes the claim coordinator over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// Coordinator is the claim service surface used by the handlers.
type Coordinator interface {
	CreateReservation(ctx context.Context, request claims.ReservationRequest) (claims.Reservation, error)
	CreateBooking(ctx context.Context, request claims.BookingRequest) (claims.Booking, error)
	CreateDeposit(ctx context.Context, request claims.DepositRequest) (claims.Deposit, error)
	Transition(ctx context.Context, ref claims.ClaimRef, action claims.Action, input claims.TransitionInput) (claims.TransitionResult, error)
	ReevaluateUnit(ctx context.Context, code claims.UnitCode) (claims.UnitStatus, error)
	Sweep(ctx context.Context) (claims.SweepReport, error)
	GetUnit(ctx context.Context, code claims.UnitCode) (claims.Unit, error)
	GetReservation(ctx context.Context, code claims.ClaimCode) (claims.Reservation, error)
	GetBooking(ctx context.Context, code claims.ClaimCode) (claims.Booking, error)
	GetDeposit(ctx context.Context, code claims.ClaimCode) (claims.Deposit, error)
	GetCommission(ctx context.Context, depositCode claims.ClaimCode) (claims.Commission, error)
	ListReservations(ctx context.Context, filter claims.ClaimFilter) ([]claims.Reservation, error)
	ListBookings(ctx context.Context, filter claims.ClaimFilter) ([]claims.Booking, error)
	ListDeposits(ctx context.Context, filter claims.ClaimFilter) ([]claims.Deposit, error)
	QueuePosition(ctx context.Context, code claims.ClaimCode) (int, error)
}

// RouterConfig carries the HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter wires every route onto a gin engine.
func NewRouter(coordinator Coordinator, cfg RouterConfig, logger *zap.Logger) (*gin.Engine, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is nil")
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	handler := &httpHandler{coordinator: coordinator, logger: logger, cfg: cfg}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/units/:code", handler.handleGetUnit)
	api.POST("/units/:code/reevaluate", handler.handleReevaluateUnit)

	reservations := api.Group("/reservations")
	reservations.POST("", handler.handleCreateReservation)
	reservations.GET("", handler.handleListReservations)
	reservations.GET("/:code", handler.handleGetReservation)
	for _, action := range []claims.Action{claims.ActionCancel, claims.ActionComplete, claims.ActionHide, claims.ActionExtend} {
		reservations.POST("/:code/"+string(action), handler.transition(claims.KindReservation, action))
	}

	bookings := api.Group("/bookings")
	bookings.POST("", handler.handleCreateBooking)
	bookings.GET("", handler.handleListBookings)
	bookings.GET("/:code", handler.handleGetBooking)
	for _, action := range []claims.Action{claims.ActionApprove, claims.ActionCancel, claims.ActionComplete, claims.ActionHide} {
		bookings.POST("/:code/"+string(action), handler.transition(claims.KindBooking, action))
	}

	deposits := api.Group("/deposits")
	deposits.POST("", handler.handleCreateDeposit)
	deposits.GET("", handler.handleListDeposits)
	deposits.GET("/:code", handler.handleGetDeposit)
	deposits.GET("/:code/commission", handler.handleGetCommission)
	for _, action := range []claims.Action{claims.ActionApprove, claims.ActionCancel, claims.ActionComplete, claims.ActionHide} {
		deposits.POST("/:code/"+string(action), handler.transition(claims.KindDeposit, action))
	}

	api.POST("/sweeps", handler.handleSweep)

	return router, nil
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("claimsd listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
