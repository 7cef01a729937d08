// Package store persists scenarios and audit entries. Values arrive already
// sealed by the caller; the store never sees encryption keys.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/finscenario/scenariomap/internal/audit"
	"github.com/finscenario/scenariomap/internal/scenario"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by Create when the id already exists.
	ErrConflict = errors.New("already exists")
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
	MaxAuditLimit      = 500
)

// ScenarioStore is the scenario record store. Create is durable on return.
type ScenarioStore interface {
	Create(ctx context.Context, s *scenario.Scenario) error
	Update(ctx context.Context, s *scenario.Scenario) error
	Get(ctx context.Context, id string) (*scenario.Scenario, error)
	Recent(ctx context.Context, limit int) ([]scenario.Summary, error)
}

// AuditStore is the append-only audit sink.
type AuditStore interface {
	AppendAudit(ctx context.Context, e audit.Entry) error
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Store combines both stores with lifecycle methods.
type Store interface {
	ScenarioStore
	AuditStore
	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

// Open returns a store for driver: "memory", "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "postgres":
		return OpenSQL(ctx, driver, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// ClampRecent bounds a listing limit to 1..MaxRecentLimit.
func ClampRecent(limit int) int {
	return clamp(limit, DefaultRecentLimit, MaxRecentLimit)
}

func clampAudit(limit int) int {
	return clamp(limit, 50, MaxAuditLimit)
}

func clamp(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
