package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slam/internal/audit"
	"slam/internal/codec"
	"slam/internal/config"
	"slam/internal/db"
	"slam/internal/idgen"
	"slam/internal/logger"
	"slam/internal/metrics"
	"slam/internal/rowstore"
)

// ErrNotFound matches every not-found failure returned by the engine.
var ErrNotFound = rowstore.ErrNotFound

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// ConflictError reports a stale rowVersion.
type ConflictError struct {
	ID       string
	Expected int64
	Current  int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("Version conflict: %s was modified by someone else (you have rowVersion %d, current is %d); reload and retry",
		e.ID, e.Expected, e.Current)
}

// ActivityLog receives audit entries after a successful write.
type ActivityLog interface {
	LogActivity(ctx context.Context, e audit.Entry) error
}

type Engine struct {
	DB       *db.DB
	Records  rowstore.Store
	Links    rowstore.Store
	IDs      idgen.Generator
	Activity ActivityLog
	Config   *config.Config
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func New(conn *db.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       conn,
		Records:  rowstore.Store{DB: conn, Table: codec.SLAs.RowTable()},
		Links:    rowstore.Store{DB: conn, Table: codec.Relationships.RowTable()},
		IDs:      idgen.SQLCounter{DB: conn, Name: "sla", Format: idgen.Format{Prefix: cfg.IDs.Prefix, Width: cfg.IDs.Width}},
		Activity: audit.Writer{DB: conn},
		Config:   cfg,
		Log:      logger.Nop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.Nop()
}

// logActivity never fails the caller; errors are logged and counted.
func (e Engine) logActivity(ctx context.Context, entry audit.Entry) {
	if e.Activity == nil {
		return
	}
	if err := e.Activity.LogActivity(ctx, entry); err != nil {
		e.Metrics.AuditFailure()
		e.log().Warn("activity log write failed", "entity_id", entry.EntityID, "action", entry.Action, "error", err)
	}
}

func (e Engine) observe(op string, err error) {
	e.Metrics.ObserveOp(op, resultClass(err))
}

func resultClass(err error) string {
	var (
		ve ValidationError
		ce ConflictError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ce):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
