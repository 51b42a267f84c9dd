// Package audit records every tool invocation to an append-only trail.
// Three drivers: JSONL file (default), SQLite, and PostgreSQL. Events carry
// identifiers and outcomes only — secret values never reach the trail.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/hazina-mcp/internal/config"
)

// Outcomes for audit events.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeDenied      = "denied"
	OutcomeRateLimited = "rate_limited"
)

// Event is one recorded tool invocation.
type Event struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Topology   string    `json:"topology"` // "local" or "hosted"
	SessionID  string    `json:"session_id,omitempty"`
	Tool       string    `json:"tool"`
	VaultID    string    `json:"vault_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	Outcome    string    `json:"outcome"` // "ok", "error", "denied", "rate_limited"
	StatusCode int       `json:"status_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// fillDefaults assigns an id and UTC timestamp when the caller left them empty.
func (e *Event) fillDefaults() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
}

// Recorder appends audit events. Implementations are append-only; nothing
// in this package can update or delete an event once recorded.
type Recorder interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// New builds a Recorder from config. Returns nil when the audit trail is
// disabled; callers nil-check before recording.
func New(cfg *config.Config, logger *slog.Logger) (Recorder, error) {
	if cfg.Audit == nil || !cfg.Audit.Enabled {
		return nil, nil
	}

	switch driver := cfg.Audit.AuditDriver(); driver {
	case "log":
		return NewLogger(cfg.AuditLogPath(), logger)
	case "sqlite":
		sc := SQLiteConfig{Path: cfg.AuditDBPath()}
		if cfg.Audit.SQLite != nil {
			sc.JournalMode = cfg.Audit.SQLite.JournalMode
		}
		return OpenSQLite(sc, logger)
	case "postgres":
		pc := PostgresConfig{DSN: cfg.Audit.Postgres.DSN}
		pc.MaxOpenConns = cfg.Audit.Postgres.MaxOpenConns
		pc.MaxIdleConns = cfg.Audit.Postgres.MaxIdleConns
		if secs := cfg.Audit.Postgres.ConnMaxLifetimeS; secs > 0 {
			pc.ConnMaxLifetime = time.Duration(secs) * time.Second
		}
		return OpenPostgres(pc, logger)
	default:
		return nil, fmt.Errorf("audit driver %q is not supported", driver)
	}
}
