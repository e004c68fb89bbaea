package claims

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing claim operation.
type OperationLog struct {
	Operation   string
	Kind        ClaimKind
	ClaimCode   ClaimCode
	UnitCode    UnitCode
	HolderID    HolderID
	Action      Action
	ClaimStatus string
	UnitStatus  UnitStatus
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires the downstream consumer of committed claim changes.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithUnitLocker replaces the in-process unit lock, e.g. with a Redis-backed one.
func WithUnitLocker(locker UnitLocker) ServiceOption {
	return func(service *Service) {
		service.locker = locker
	}
}

// WithPolicy overrides hold windows, grace periods and commission defaults.
// Zero fields keep their defaults.
func WithPolicy(policy Policy) ServiceOption {
	return func(service *Service) {
		service.policy = policy.withDefaults()
	}
}

// WithCodeGenerator replaces the claim code generator.
func WithCodeGenerator(generate func(prefix string) string) ServiceOption {
	return func(service *Service) {
		service.codeFn = generate
	}
}

// Policy holds the time and money rules applied by the coordinator.
// A negative MaxExtensions disables reservation extensions.
type Policy struct {
	HoldWindow            time.Duration
	BookingGrace          time.Duration
	MaxExtensions         int
	DefaultCommissionRate BasisPoints
	LockTimeout           time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

func (policy Policy) withDefaults() Policy {
	if policy.HoldWindow <= 0 {
		policy.HoldWindow = defaultHoldWindow
	}
	if policy.BookingGrace <= 0 {
		policy.BookingGrace = defaultBookingGrace
	}
	if policy.MaxExtensions == 0 {
		policy.MaxExtensions = defaultMaxExtensions
	}
	if policy.DefaultCommissionRate <= 0 {
		policy.DefaultCommissionRate = defaultCommissionRate
	}
	if policy.LockTimeout <= 0 {
		policy.LockTimeout = defaultLockTimeout
	}
	return policy
}
