package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"slam/internal/db"
	"slam/internal/domain"
)

const (
	ActionCreated             = "created"
	ActionUpdated             = "updated"
	ActionDeleted             = "deleted"
	ActionRelationshipCreated = "relationship.created"
	ActionRelationshipDeleted = "relationship.deleted"
)

// tsLayout is fixed width so timestamps sort as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one activity to record.
type Entry struct {
	EntityID  string
	Action    string
	Message   string
	Actor     string
	OldValues map[string]any
	NewValues map[string]any
}

// Writer appends to and reads from activity_log.
type Writer struct {
	DB  *db.DB
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Writer) LogActivity(ctx context.Context, e Entry) error {
	if e.EntityID == "" || e.Action == "" {
		return fmt.Errorf("activity requires entity and action")
	}
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	ts := w.now().UTC().Format(tsLayout)
	_, err = w.DB.ExecOn(ctx, w.DB, `INSERT INTO activity_log(id,ts,entity_id,action,message,actor_id,old_values_json,new_values_json) VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), ts, e.EntityID, e.Action, nullable(e.Message), e.Actor, oldJSON, newJSON)
	return err
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	EntityID string
	Action   string
	ActorID  string
	Limit    int
}

// List returns the newest entries first.
func (w Writer) List(ctx context.Context, f Filter) ([]domain.ActivityEntry, error) {
	var (
		conds []string
		args  []any
	)
	if f.EntityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Action != "" {
		conds = append(conds, "action=?")
		args = append(args, f.Action)
	}
	if f.ActorID != "" {
		conds = append(conds, "actor_id=?")
		args = append(args, f.ActorID)
	}
	query := `SELECT id,ts,entity_id,action,COALESCE(message,''),actor_id,COALESCE(old_values_json,''),COALESCE(new_values_json,'') FROM activity_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := w.DB.QueryOn(ctx, w.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Cursor positions a reader in the log. Entries are ordered by (ts, id).
type Cursor struct {
	TS string
	ID string
}

// Latest returns the cursor of the newest entry, or the zero cursor.
func (w Writer) Latest(ctx context.Context) (Cursor, error) {
	var c Cursor
	err := w.DB.QueryRowOn(ctx, w.DB, `SELECT ts,id FROM activity_log ORDER BY ts DESC, id DESC LIMIT 1`).Scan(&c.TS, &c.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, nil
	}
	return c, err
}

// After returns up to limit entries strictly after c, oldest first.
func (w Writer) After(ctx context.Context, c Cursor, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.QueryOn(ctx, w.DB, fmt.Sprintf(`SELECT id,ts,entity_id,action,COALESCE(message,''),actor_id,COALESCE(old_values_json,''),COALESCE(new_values_json,'')
		FROM activity_log WHERE ts > ? OR (ts = ? AND id > ?) ORDER BY ts, id LIMIT %d`, limit), c.TS, c.TS, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]domain.ActivityEntry, error) {
	var out []domain.ActivityEntry
	for rows.Next() {
		var (
			e                domain.ActivityEntry
			oldJSON, newJSON string
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.EntityID, &e.Action, &e.Message, &e.ActorID, &oldJSON, &newJSON); err != nil {
			return nil, err
		}
		if oldJSON != "" {
			_ = json.Unmarshal([]byte(oldJSON), &e.OldValues)
		}
		if newJSON != "" {
			_ = json.Unmarshal([]byte(newJSON), &e.NewValues)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalValues(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
