package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"slam/internal/audit"
	"slam/internal/codec"
	"slam/internal/domain"
	"slam/internal/rowstore"
)

var requiredOnCreate = []string{"name", "type", "teamId", "startDate", "endDate", "targetValue"}

var createDefaults = map[string]any{
	"status":             domain.StatusNotStarted,
	"currentValue":       0.0,
	"frequency":          domain.FrequencyOnce,
	"isActive":           true,
	"useRange":           false,
	"notificationEmails": []string{},
	"tags":               []string{},
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

// encodeFields validates and encodes client fields in schema order. Keys the
// schema does not know, such as the relationships of a read record, are
// ignored like non-writable ones.
func encodeFields(fields map[string]any) (rowstore.Row, error) {
	row := rowstore.Row{}
	for _, f := range codec.SLAs.Fields {
		v, ok := fields[f.Name]
		if !ok || !f.Writable {
			continue
		}
		cell, err := codec.Encode(f, v)
		if err != nil {
			return nil, ValidationError{Field: f.Name, Message: err.Error()}
		}
		row[f.Header] = cell
	}
	return row, nil
}

// Create validates payload, assigns the next id and appends the record.
func (e Engine) Create(ctx context.Context, actor string, payload map[string]any) (rec domain.Record, err error) {
	defer func() { e.observe("create", err) }()

	var missing []string
	for _, name := range requiredOnCreate {
		if isBlank(payload[name]) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return domain.Record{}, ValidationError{
			Field:   missing[0],
			Message: "Missing required fields: " + strings.Join(missing, ", "),
		}
	}
	fields := codec.SanitizeUpdates(payload)
	if fields["status"] == domain.StatusDeleted {
		return domain.Record{}, ValidationError{Field: "status", Message: "status 'deleted' can only be set by delete"}
	}
	for k, v := range createDefaults {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	row, err := encodeFields(fields)
	if err != nil {
		return domain.Record{}, err
	}

	id, err := e.IDs.Next(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	now := e.now()
	stamp, _ := codec.Encode(mustField("createdAt"), now)
	row[codec.HeaderSLAID] = id
	row["Created At"] = stamp
	row["Created By"] = actor
	row[codec.HeaderUpdatedAt] = stamp
	row[codec.HeaderUpdatedBy] = actor
	row[codec.HeaderRowVersion] = int64(1)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()
	h, err := e.Records.AppendRow(ctx, tx, row)
	if err != nil {
		return domain.Record{}, fmt.Errorf("append %s: %w", id, err)
	}
	stored, err := e.Records.ReadRow(ctx, tx, h)
	if err != nil {
		return domain.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, err
	}
	values := codec.SLAs.DecodeRow(stored)
	e.logActivity(ctx, audit.Entry{
		EntityID:  id,
		Action:    audit.ActionCreated,
		Message:   fmt.Sprintf("Created SLA %s", id),
		Actor:     actor,
		NewValues: auditValues(values, fields),
	})
	e.log().Debug("sla created", "sla_id", id, "actor", actor)
	return codec.ToRecord(values), nil
}

// Read returns one record with its relationships attached.
func (e Engine) Read(ctx context.Context, id string) (rec domain.Record, err error) {
	defer func() { e.observe("read", err) }()
	h, err := e.Records.FindRowByKey(ctx, e.DB, id)
	if errors.Is(err, rowstore.ErrNotFound) {
		return domain.Record{}, NotFoundError{Kind: "SLA", ID: id}
	}
	if err != nil {
		return domain.Record{}, err
	}
	row, err := e.Records.ReadRow(ctx, e.DB, h)
	if err != nil {
		return domain.Record{}, err
	}
	rec = codec.ToRecord(codec.SLAs.DecodeRow(row))
	rels, err := e.RelationshipsFor(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	rec.Relationships = rels
	return rec, nil
}

// Update applies a partial update. A supplied rowVersion must match the
// stored one or nothing is written.
func (e Engine) Update(ctx context.Context, actor, id string, updates map[string]any) (rec domain.Record, err error) {
	defer func() { e.observe("update", err) }()
	return e.update(ctx, actor, id, updates, false)
}

func (e Engine) update(ctx context.Context, actor, id string, updates map[string]any, allowDeleted bool) (domain.Record, error) {
	expected, hasVersion, err := rowVersionFrom(updates)
	if err != nil {
		return domain.Record{}, err
	}
	if !hasVersion && e.Config != nil && e.Config.Concurrency.RequireRowVersion {
		return domain.Record{}, ValidationError{Field: "rowVersion", Message: "rowVersion is required"}
	}
	fields := codec.SanitizeUpdates(updates)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	h, err := e.Records.FindRowByKey(ctx, tx, id)
	if errors.Is(err, rowstore.ErrNotFound) {
		return domain.Record{}, NotFoundError{Kind: "SLA", ID: id}
	}
	if err != nil {
		return domain.Record{}, err
	}
	before, err := e.Records.ReadRow(ctx, tx, h)
	if err != nil {
		return domain.Record{}, err
	}
	current, _ := codec.Decode(mustField("rowVersion"), before[codec.HeaderRowVersion]).(int64)
	// The version is checked before values so a stale write always reports
	// a conflict.
	if hasVersion && expected != current {
		return domain.Record{}, ConflictError{ID: id, Expected: expected, Current: current}
	}
	if !allowDeleted && fields["status"] == domain.StatusDeleted {
		return domain.Record{}, ValidationError{Field: "status", Message: "status 'deleted' can only be set by delete"}
	}

	cells, err := encodeFields(fields)
	if err != nil {
		return domain.Record{}, err
	}
	oldValues := map[string]any{}
	newValues := map[string]any{}
	headers := make([]string, 0, len(cells))
	for header := range cells {
		headers = append(headers, header)
	}
	sort.Strings(headers)
	for _, header := range headers {
		f, _ := codec.SLAs.ByHeader(header)
		oldValues[f.Name] = codec.Decode(f, before[header])
		if err := e.Records.WriteCell(ctx, tx, h, header, cells[header]); err != nil {
			return domain.Record{}, fmt.Errorf("write %s.%s: %w", id, f.Name, err)
		}
		newValues[f.Name] = codec.Decode(f, cells[header])
	}

	stamp, _ := codec.Encode(mustField("updatedAt"), e.now())
	swapped, err := e.Records.CompareAndSwap(ctx, tx, h, codec.HeaderRowVersion, current, rowstore.Row{
		codec.HeaderUpdatedAt:  stamp,
		codec.HeaderUpdatedBy:  actor,
		codec.HeaderRowVersion: current + 1,
	})
	if err != nil {
		return domain.Record{}, err
	}
	if !swapped {
		latest, _ := e.Records.ReadRow(ctx, tx, h)
		latestVersion, _ := codec.Decode(mustField("rowVersion"), latest[codec.HeaderRowVersion]).(int64)
		return domain.Record{}, ConflictError{ID: id, Expected: current, Current: latestVersion}
	}
	after, err := e.Records.ReadRow(ctx, tx, h)
	if err != nil {
		return domain.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, err
	}
	e.logActivity(ctx, audit.Entry{
		EntityID:  id,
		Action:    audit.ActionUpdated,
		Message:   fmt.Sprintf("Updated SLA %s (rowVersion %d)", id, current+1),
		Actor:     actor,
		OldValues: oldValues,
		NewValues: newValues,
	})
	return codec.ToRecord(codec.SLAs.DecodeRow(after)), nil
}

// Delete soft-deletes a record: status becomes deleted and isActive false.
// Every other field is kept.
func (e Engine) Delete(ctx context.Context, actor, id string, rowVersion *int64) (rec domain.Record, err error) {
	defer func() { e.observe("delete", err) }()
	updates := map[string]any{"isActive": false, "status": domain.StatusDeleted}
	if rowVersion != nil {
		updates["rowVersion"] = *rowVersion
	}
	rec, err = e.update(ctx, actor, id, updates, true)
	if err != nil {
		return domain.Record{}, err
	}
	e.logActivity(ctx, audit.Entry{
		EntityID: id,
		Action:   audit.ActionDeleted,
		Message:  fmt.Sprintf("Deleted SLA %s", id),
		Actor:    actor,
	})
	return rec, nil
}

// BulkError describes one failed item of a batch.
type BulkError struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

type BulkCreateResult struct {
	Success bool        `json:"success"`
	Created []string    `json:"created"`
	Errors  []BulkError `json:"errors"`
}

type BulkUpdateItem struct {
	ID      string         `json:"id"`
	Updates map[string]any `json:"updates"`
}

type BulkUpdateResult struct {
	Success bool        `json:"success"`
	Updated []string    `json:"updated"`
	Errors  []BulkError `json:"errors"`
}

// BulkCreate creates each payload independently; failures do not stop or
// undo the others.
func (e Engine) BulkCreate(ctx context.Context, actor string, payloads []map[string]any) BulkCreateResult {
	res := BulkCreateResult{Created: []string{}, Errors: []BulkError{}}
	for i, p := range payloads {
		rec, err := e.Create(ctx, actor, p)
		if err != nil {
			res.Errors = append(res.Errors, BulkError{Index: i, Error: err.Error()})
			continue
		}
		res.Created = append(res.Created, rec.SLAID)
	}
	res.Success = len(res.Errors) == 0
	return res
}

// BulkUpdate applies each update independently.
func (e Engine) BulkUpdate(ctx context.Context, actor string, items []BulkUpdateItem) BulkUpdateResult {
	res := BulkUpdateResult{Updated: []string{}, Errors: []BulkError{}}
	for i, it := range items {
		if it.ID == "" {
			res.Errors = append(res.Errors, BulkError{Index: i, Error: "id is required"})
			continue
		}
		if _, err := e.Update(ctx, actor, it.ID, it.Updates); err != nil {
			res.Errors = append(res.Errors, BulkError{Index: i, ID: it.ID, Error: err.Error()})
			continue
		}
		res.Updated = append(res.Updated, it.ID)
	}
	res.Success = len(res.Errors) == 0
	return res
}

func rowVersionFrom(updates map[string]any) (int64, bool, error) {
	return ParseRowVersion(updates["rowVersion"])
}

// ParseRowVersion accepts the integer forms a JSON or query-string caller
// may send. A nil or empty value reports ok=false.
func ParseRowVersion(raw any) (int64, bool, error) {
	if raw == nil {
		return 0, false, nil
	}
	if s, isString := raw.(string); isString && strings.TrimSpace(s) == "" {
		return 0, false, nil
	}
	bad := ValidationError{Field: "rowVersion", Message: fmt.Sprintf("invalid rowVersion %v", raw)}
	switch v := raw.(type) {
	case int:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, false, bad
		}
		return int64(v), true, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false, bad
		}
		return n, true, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false, bad
		}
		return n, true, nil
	}
	return 0, false, bad
}

// auditValues keeps the fields the caller supplied plus the generated id.
func auditValues(values codec.Values, supplied map[string]any) map[string]any {
	out := map[string]any{"slaId": values["slaId"]}
	for name := range supplied {
		if v, ok := values[name]; ok {
			out[name] = v
		}
	}
	return out
}

func mustField(name string) codec.Field {
	f, ok := codec.SLAs.ByName(name)
	if !ok {
		panic("unknown field " + name)
	}
	return f
}
