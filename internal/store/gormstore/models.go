package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Project mirrors the projects table.
type Project struct {
	Code              string `gorm:"primaryKey"`
	Name              string `gorm:"not null;default:''"`
	CommissionRateBps *int64
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Project) TableName() string { return "projects" }

// Unit mirrors the units table.
type Unit struct {
	Code              string `gorm:"primaryKey"`
	ProjectCode       string `gorm:"not null;default:'';index:idx_units_project"`
	PriceAmount       int64  `gorm:"not null"`
	CommissionRateBps *int64
	Status            string    `gorm:"not null;index:idx_units_status"`
	Deleted           bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Unit) TableName() string { return "units" }

// Reservation mirrors the reservations table.
type Reservation struct {
	Code          string     `gorm:"primaryKey"`
	UnitCode      string     `gorm:"not null;index:idx_reservations_unit_priority,priority:1"`
	HolderID      string     `gorm:"not null;index:idx_reservations_holder"`
	CustomerName  string     `gorm:"not null"`
	CustomerPhone string     `gorm:"not null"`
	CustomerEmail string     `gorm:"not null;default:''"`
	Status        string     `gorm:"not null;index:idx_reservations_status_deadline,priority:1"`
	ReservedUntil *time.Time `gorm:"index:idx_reservations_status_deadline,priority:2"`
	Priority      int        `gorm:"not null;index:idx_reservations_unit_priority,priority:2"`
	Queued        bool       `gorm:"not null;default:false"`
	ExtendCount   int        `gorm:"not null;default:0"`
	Hidden        bool       `gorm:"not null;default:false"`
	Notes         string     `gorm:"not null;default:''"`
	Reason        string     `gorm:"not null;default:''"`
	Metadata      datatypes.JSON
	CompletedAt   *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

// Booking mirrors the bookings table.
type Booking struct {
	Code          string `gorm:"primaryKey"`
	UnitCode      string `gorm:"not null;index:idx_bookings_unit"`
	HolderID      string `gorm:"not null;index:idx_bookings_holder"`
	CustomerName  string `gorm:"not null"`
	CustomerPhone string `gorm:"not null"`
	CustomerEmail string `gorm:"not null;default:''"`
	VisitStart    *time.Time
	VisitEnd      *time.Time
	Status        string     `gorm:"not null;index:idx_bookings_status_expiry,priority:1"`
	ExpiresAt     *time.Time `gorm:"index:idx_bookings_status_expiry,priority:2"`
	Hidden        bool       `gorm:"not null;default:false"`
	Notes         string     `gorm:"not null;default:''"`
	Reason        string     `gorm:"not null;default:''"`
	Metadata      datatypes.JSON
	ApprovedBy    string `gorm:"not null;default:''"`
	ApprovedAt    *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// Deposit mirrors the deposits table.
type Deposit struct {
	Code                  string `gorm:"primaryKey"`
	UnitCode              string `gorm:"not null;index:idx_deposits_unit"`
	HolderID              string `gorm:"not null;index:idx_deposits_holder"`
	CustomerName          string `gorm:"not null"`
	CustomerPhone         string `gorm:"not null"`
	CustomerEmail         string `gorm:"not null;default:''"`
	CustomerNationalID    string `gorm:"not null;default:''"`
	DepositAmount         int64  `gorm:"not null"`
	DepositPercentageBps  int64  `gorm:"not null"`
	Status                string `gorm:"not null"`
	ApprovedBy            string `gorm:"not null;default:''"`
	ApprovedAt            *time.Time
	CompletedAt           *time.Time
	Hidden                bool   `gorm:"not null;default:false"`
	Notes                 string `gorm:"not null;default:''"`
	Reason                string `gorm:"not null;default:''"`
	Metadata              datatypes.JSON
	SourceReservationCode string    `gorm:"not null;default:''"`
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (Deposit) TableName() string { return "deposits" }

// Commission mirrors the commissions table. DepositCode is unique so a deposit
// can never produce a second commission row.
type Commission struct {
	Code        string    `gorm:"primaryKey"`
	DepositCode string    `gorm:"not null;uniqueIndex:uniq_commissions_deposit"`
	UnitCode    string    `gorm:"not null;index:idx_commissions_unit"`
	HolderID    string    `gorm:"not null;index:idx_commissions_holder"`
	Amount      int64     `gorm:"not null"`
	RateBps     int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Commission) TableName() string { return "commissions" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Project{}, &Unit{}, &Reservation{}, &Booking{}, &Deposit{}, &Commission{}}
}
