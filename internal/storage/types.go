package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrDisabled = errors.New("storage disabled")

// Config selects the backend.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// AuditEntry records one operator action.
type AuditEntry struct {
	At        time.Time         `json:"at"`
	Platform  string            `json:"platform"`
	ActorID   string            `json:"actor_id"`
	ActorName string            `json:"actor_name,omitempty"`
	Channel   string            `json:"channel"`
	Action    string            `json:"action"`
	Target    string            `json:"target,omitempty"`
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	TookMS    int64             `json:"took_ms"`
	Meta      map[string]string `json:"meta,omitempty"`
}

type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
