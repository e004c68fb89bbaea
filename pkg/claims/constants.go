package claims

import "time"

const (
	operationCreate     = "create"
	operationTransition = "transition"
	operationReevaluate = "reevaluate"
	operationSweep      = "sweep"
	operationPublish    = "publish"
	operationImport     = "import"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	systemActor = "system"

	reasonCancelledByHolder = "cancelled by holder"
	reasonPastHoldWindow    = "past hold window"
	reasonMissedTurn        = "turn missed"
	reasonPastVisitWindow   = "past visit window + grace period"
	reasonConvertedDeposit  = "converted to deposit"
	reasonUnitSold          = "unit sold"

	codePrefixReservation = "RSV"
	codePrefixBooking     = "BKG"
	codePrefixDeposit     = "DEP"
	codePrefixCommission  = "COM"
)

const (
	defaultHoldWindow     = 24 * time.Hour
	defaultBookingGrace   = 30 * time.Minute
	defaultMaxExtensions  = 1
	defaultCommissionRate = BasisPoints(200)
	defaultLockTimeout    = 5 * time.Second
	defaultListLimit      = 100
	maxListLimit          = 500
)
