// Package diagnostics checks the record store for inconsistencies that the
// write path cannot prevent on its own, such as hand-edited rows or a
// counter restored from an older backup.
package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"slam/internal/codec"
	"slam/internal/domain"
	"slam/internal/engine"
	"slam/internal/idgen"
	"slam/internal/rowstore"
)

const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Check is the result of one validation.
type Check struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Detail  []string `json:"detail,omitempty"`
	Fixed   bool     `json:"fixed,omitempty"`
}

// Report collects every check. OK is false when any check is not ok.
type Report struct {
	Checks  []Check `json:"checks"`
	Records int     `json:"records"`
	OK      bool    `json:"ok"`
}

type Options struct {
	// Fix advances the id counter when it is behind the highest stored id.
	Fix bool
}

// Run executes all checks against e.
func Run(ctx context.Context, e engine.Engine, opts Options) (Report, error) {
	rows, err := e.Records.Scan(ctx, e.DB)
	if err != nil {
		return Report{}, fmt.Errorf("scan records: %w", err)
	}
	values := make([]codec.Values, 0, len(rows))
	ids := make(map[string]bool, len(rows))
	for _, row := range rows {
		v := codec.SLAs.DecodeRow(row)
		values = append(values, v)
		if id, _ := v["slaId"].(string); id != "" {
			ids[id] = true
		}
	}
	rels, err := e.AllRelationships(ctx)
	if err != nil {
		return Report{}, err
	}

	counter, err := checkCounter(ctx, e, ids, opts.Fix)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Records: len(rows),
		Checks: []Check{
			checkParents(values, ids),
			checkRelationships(rels, ids),
			counter,
			checkDeletedState(values),
			checkListCells(rows),
		},
		OK: true,
	}
	for _, c := range report.Checks {
		if c.Status != StatusOK {
			report.OK = false
		}
	}
	return report, nil
}

func result(name string, detail []string, failStatus, okMsg, failMsg string) Check {
	if len(detail) == 0 {
		return Check{Name: name, Status: StatusOK, Message: okMsg}
	}
	sort.Strings(detail)
	return Check{Name: name, Status: failStatus, Message: fmt.Sprintf(failMsg, len(detail)), Detail: detail}
}

func checkParents(values []codec.Values, ids map[string]bool) Check {
	var detail []string
	for _, v := range values {
		parent, _ := v["parentSlaId"].(string)
		if parent == "" || ids[parent] {
			continue
		}
		detail = append(detail, fmt.Sprintf("%v: parent %s does not exist", v["slaId"], parent))
	}
	return result("Parent references", detail, StatusWarning,
		"All parent ids resolve", "%d record(s) reference a missing parent")
}

func checkRelationships(rels []domain.Relationship, ids map[string]bool) Check {
	var detail []string
	for _, r := range rels {
		label := fmt.Sprintf("%s %s %s", r.SourceSLAID, r.RelationshipType, r.TargetSLAID)
		switch {
		case !domain.ValidRelationshipType(r.RelationshipType):
			detail = append(detail, label+": invalid relationship type")
		case !ids[r.SourceSLAID]:
			detail = append(detail, label+": source does not exist")
		case !ids[r.TargetSLAID]:
			detail = append(detail, label+": target does not exist")
		case r.SourceSLAID == r.TargetSLAID:
			detail = append(detail, label+": self reference")
		}
	}
	return result("Relationships", detail, StatusWarning,
		fmt.Sprintf("%d relationship(s) valid", len(rels)), "%d invalid relationship(s)")
}

// checkCounter is an error because a lagging counter will hand out an id
// that already exists.
func checkCounter(ctx context.Context, e engine.Engine, ids map[string]bool, fix bool) (Check, error) {
	const name = "Id counter"
	if e.IDs == nil {
		return Check{Name: name, Status: StatusOK, Message: "No id generator configured"}, nil
	}
	format := idgen.Format{Prefix: e.Config.IDs.Prefix, Width: e.Config.IDs.Width}
	var highest int64
	for id := range ids {
		if n, ok := format.Parse(id); ok && n > highest {
			highest = n
		}
	}
	current, err := e.IDs.Current(ctx)
	if err != nil {
		return Check{}, fmt.Errorf("read id counter: %w", err)
	}
	if current >= highest {
		return Check{Name: name, Status: StatusOK, Message: fmt.Sprintf("Counter at %d, highest id %s", current, format.ID(highest))}, nil
	}
	c := Check{
		Name:    name,
		Status:  StatusError,
		Message: fmt.Sprintf("Counter at %d is behind highest id %s", current, format.ID(highest)),
	}
	if fix {
		if err := e.IDs.Advance(ctx, highest); err != nil {
			return Check{}, fmt.Errorf("advance id counter: %w", err)
		}
		c.Status = StatusOK
		c.Fixed = true
		c.Message = fmt.Sprintf("Counter advanced from %d to %d", current, highest)
	}
	return c, nil
}

func checkDeletedState(values []codec.Values) Check {
	var detail []string
	for _, v := range values {
		status, _ := v["status"].(string)
		active, _ := v["isActive"].(bool)
		switch {
		case status == domain.StatusDeleted && active:
			detail = append(detail, fmt.Sprintf("%v: status deleted but isActive is true", v["slaId"]))
		case status != domain.StatusDeleted && !active:
			detail = append(detail, fmt.Sprintf("%v: inactive but status is %q", v["slaId"], status))
		}
	}
	return result("Soft delete state", detail, StatusWarning,
		"Status and isActive agree", "%d record(s) with inconsistent delete state")
}

// checkListCells inspects raw cells; decoding already drops empty segments.
func checkListCells(rows []rowstore.Row) Check {
	var detail []string
	for _, row := range rows {
		for _, f := range codec.SLAs.Fields {
			if f.Kind != codec.KindList {
				continue
			}
			cell, _ := row[f.Header].(string)
			if cell == "" {
				continue
			}
			for _, seg := range strings.Split(cell, f.Delim) {
				if strings.TrimSpace(seg) == "" {
					detail = append(detail, fmt.Sprintf("%v: %s has empty entries (%q)", row[codec.HeaderSLAID], f.Name, cell))
					break
				}
			}
		}
	}
	return result("List cells", detail, StatusWarning,
		"No empty list entries", "%d list cell(s) with empty entries")
}
