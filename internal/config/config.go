// Package config holds the claimsd runtime settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Flag names double as viper keys; env vars use the CLAIMSD_ prefix with underscores.
const (
	FlagListenAddr           = "listen-addr"
	FlagDatabaseURL          = "database-url"
	FlagRedisURL             = "redis-url"
	FlagAMQPURL              = "amqp-url"
	FlagAMQPExchange         = "amqp-exchange"
	FlagHoldWindow           = "hold-window"
	FlagBookingGrace         = "booking-grace"
	FlagMaxExtensions        = "max-extensions"
	FlagDefaultCommissionBps = "default-commission-bps"
	FlagSweepSchedule        = "sweep-schedule"
	FlagAllowedOrigins       = "allowed-origins"
	FlagRequestTimeout       = "request-timeout"
	EnvPrefix                = "CLAIMSD"
)

const (
	defaultListenAddr           = ":8080"
	defaultDatabaseURL          = "sqlite:///tmp/unitclaims.db"
	defaultAMQPExchange         = "unitclaims.events"
	defaultHoldWindow           = 24 * time.Hour
	defaultBookingGrace         = 30 * time.Minute
	defaultMaxExtensions        = 1
	defaultCommissionBps  int64 = 200
	defaultSweepSchedule        = "@every 1m"
	defaultAllowedOrigin        = "http://localhost:3000"
	defaultRequestTimeout       = 10 * time.Second
	maxCommissionBps      int64 = 10000
)

// Flags lists every configurable flag.
func Flags() []string {
	return []string{
		FlagListenAddr,
		FlagDatabaseURL,
		FlagRedisURL,
		FlagAMQPURL,
		FlagAMQPExchange,
		FlagHoldWindow,
		FlagBookingGrace,
		FlagMaxExtensions,
		FlagDefaultCommissionBps,
		FlagSweepSchedule,
		FlagAllowedOrigins,
		FlagRequestTimeout,
	}
}

// Config aggregates runtime settings for claimsd.
type Config struct {
	ListenAddr           string
	DatabaseURL          string
	RedisURL             string
	AMQPURL              string
	AMQPExchange         string
	HoldWindow           time.Duration
	BookingGrace         time.Duration
	MaxExtensions        int
	DefaultCommissionBps int64
	SweepSchedule        string
	AllowedOrigins       []string
	RequestTimeout       time.Duration
}

// Load reads every flag key from v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:           strings.TrimSpace(v.GetString(FlagListenAddr)),
		DatabaseURL:          strings.TrimSpace(v.GetString(FlagDatabaseURL)),
		RedisURL:             strings.TrimSpace(v.GetString(FlagRedisURL)),
		AMQPURL:              strings.TrimSpace(v.GetString(FlagAMQPURL)),
		AMQPExchange:         strings.TrimSpace(v.GetString(FlagAMQPExchange)),
		HoldWindow:           v.GetDuration(FlagHoldWindow),
		BookingGrace:         v.GetDuration(FlagBookingGrace),
		MaxExtensions:        v.GetInt(FlagMaxExtensions),
		DefaultCommissionBps: v.GetInt64(FlagDefaultCommissionBps),
		SweepSchedule:        strings.TrimSpace(v.GetString(FlagSweepSchedule)),
		AllowedOrigins:       ParseAllowedOrigins(v.GetString(FlagAllowedOrigins)),
		RequestTimeout:       v.GetDuration(FlagRequestTimeout),
	}
	if !v.IsSet(FlagMaxExtensions) {
		cfg.MaxExtensions = defaultMaxExtensions
	}
	if !v.IsSet(FlagDefaultCommissionBps) {
		cfg.DefaultCommissionBps = defaultCommissionBps
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills defaults and rejects values the coordinator cannot run with.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.AMQPExchange = defaultIfEmpty(cfg.AMQPExchange, defaultAMQPExchange)
	cfg.SweepSchedule = defaultIfEmpty(cfg.SweepSchedule, defaultSweepSchedule)
	if cfg.HoldWindow == 0 {
		cfg.HoldWindow = defaultHoldWindow
	}
	if cfg.BookingGrace == 0 {
		cfg.BookingGrace = defaultBookingGrace
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.HoldWindow < 0 {
		return fmt.Errorf("hold window must be positive")
	}
	if cfg.BookingGrace < 0 {
		return fmt.Errorf("booking grace must not be negative")
	}
	if cfg.DefaultCommissionBps < 1 || cfg.DefaultCommissionBps > maxCommissionBps {
		return fmt.Errorf("default commission must be between 1 and %d basis points", maxCommissionBps)
	}
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", cfg.SweepSchedule, err)
	}
	return nil
}

// Policy converts the configured windows and rates to a claims.Policy.
// A zero max-extensions setting disables extensions.
func (cfg Config) Policy() claims.Policy {
	maxExtensions := cfg.MaxExtensions
	if maxExtensions <= 0 {
		maxExtensions = -1
	}
	return claims.Policy{
		HoldWindow:            cfg.HoldWindow,
		BookingGrace:          cfg.BookingGrace,
		MaxExtensions:         maxExtensions,
		DefaultCommissionRate: claims.BasisPoints(cfg.DefaultCommissionBps),
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
