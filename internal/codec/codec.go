package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"slam/internal/domain"
	"slam/internal/rowstore"
)

const dateLayout = "2006-01-02"

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", dateLayout}

// Values maps field name to decoded value: string, float64, int64, bool,
// time.Time, []string, a JSON value, or nil.
type Values map[string]any

// ParseTime accepts RFC3339, a bare local timestamp or a calendar date.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// SplitList splits a delimited cell, trimming entries and dropping empty ones.
func SplitList(s, delim string) []string {
	out := []string{}
	for _, part := range strings.Split(s, delim) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Encode converts a client value into the cell stored for f.
func Encode(f Field, v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		v = string(n)
	}
	switch f.Kind {
	case KindString, KindText:
		if v == nil {
			return nil, nil
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			s = strconv.Itoa(val)
		case int64:
			s = strconv.FormatInt(val, 10)
		case bool:
			s = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("%s must be a string", f.Name)
		}
		if s == "" {
			return nil, nil
		}
		return s, nil
	case KindEnum:
		s, _ := v.(string)
		for _, allowed := range f.Enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, fmt.Errorf("invalid %s %v (allowed: %s)", f.Name, v, strings.Join(f.Enum, ", "))
	case KindNumber:
		n, ok, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		if !ok {
			return nil, nil
		}
		return n, nil
	case KindInt:
		n, ok, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		if !ok {
			return nil, nil
		}
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%s must be an integer", f.Name)
		}
		return int64(n), nil
	case KindBool:
		b, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case KindDate, KindTimestamp:
		var t time.Time
		switch val := v.(type) {
		case nil:
			return nil, nil
		case time.Time:
			t = val.UTC()
		case string:
			if strings.TrimSpace(val) == "" {
				return nil, nil
			}
			parsed, err := ParseTime(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			t = parsed
		default:
			return nil, fmt.Errorf("%s must be an ISO-8601 date", f.Name)
		}
		if f.Kind == KindDate && t.Equal(t.Truncate(24*time.Hour)) {
			return t.Format(dateLayout), nil
		}
		return t.Format(time.RFC3339), nil
	case KindList:
		var items []string
		switch val := v.(type) {
		case nil:
			return "", nil
		case string:
			items = SplitList(val, f.Delim)
		case []string:
			items = val
		case []any:
			for _, it := range val {
				s, ok := it.(string)
				if !ok {
					return nil, fmt.Errorf("%s entries must be strings", f.Name)
				}
				items = append(items, s)
			}
		default:
			return nil, fmt.Errorf("%s must be a list of strings", f.Name)
		}
		kept := make([]string, 0, len(items))
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				kept = append(kept, it)
			}
		}
		return strings.Join(kept, f.Delim), nil
	case KindJSON:
		if v == nil {
			return nil, nil
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("unsupported kind for %s", f.Name)
}

// Decode converts a raw cell into its field value. It never fails: cells the
// kind cannot interpret come back as-is (JSON) or as nil.
func Decode(f Field, cell any) any {
	if b, ok := cell.([]byte); ok {
		cell = string(b)
	}
	switch f.Kind {
	case KindString, KindText, KindEnum:
		switch c := cell.(type) {
		case nil:
			return ""
		case string:
			return c
		default:
			return fmt.Sprint(c)
		}
	case KindNumber:
		n, ok, err := toFloat(cell)
		if err != nil || !ok {
			return nil
		}
		return n
	case KindInt:
		n, ok, err := toFloat(cell)
		if err != nil || !ok {
			return int64(0)
		}
		return int64(n)
	case KindBool:
		b, _ := toBool(cell)
		return b
	case KindDate, KindTimestamp:
		switch c := cell.(type) {
		case time.Time:
			return c.UTC()
		case string:
			if t, err := ParseTime(c); err == nil {
				return t
			}
		}
		return nil
	case KindList:
		s, _ := cell.(string)
		return SplitList(s, f.Delim)
	case KindJSON:
		s, ok := cell.(string)
		if !ok || s == "" {
			return nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return s
		}
		return out
	}
	return cell
}

// DecodeRow decodes every known header of row.
func (s *Schema) DecodeRow(row rowstore.Row) Values {
	out := make(Values, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = Decode(f, row[f.Header])
	}
	return out
}

// Protected lists fields silently dropped from client updates.
var Protected = map[string]struct{}{
	"rowVersion": {},
	"updatedAt":  {},
	"updatedBy":  {},
	"progress":   {},
	"slaId":      {},
	"createdAt":  {},
	"createdBy":  {},
}

// SanitizeUpdates drops protected fields. The input map is not modified.
func SanitizeUpdates(updates map[string]any) map[string]any {
	out := make(map[string]any, len(updates))
	for k, v := range updates {
		if _, drop := Protected[k]; drop {
			continue
		}
		out[k] = v
	}
	return out
}

// ToRecord builds a Record from decoded SLA values.
func ToRecord(v Values) domain.Record {
	rec := domain.Record{
		SLAID:              str(v["slaId"]),
		ParentSLAID:        str(v["parentSlaId"]),
		Name:               str(v["name"]),
		Type:               str(v["type"]),
		Description:        str(v["description"]),
		TeamID:             str(v["teamId"]),
		StartDate:          timePtr(v["startDate"]),
		EndDate:            timePtr(v["endDate"]),
		Status:             str(v["status"]),
		TargetValue:        floatPtr(v["targetValue"]),
		TargetRangeMin:     floatPtr(v["targetRangeMin"]),
		TargetRangeMax:     floatPtr(v["targetRangeMax"]),
		UseRange:           v["useRange"] == true,
		Progress:           floatPtr(v["progress"]),
		Frequency:          str(v["frequency"]),
		NotificationEmails: list(v["notificationEmails"]),
		Tags:               list(v["tags"]),
		ExternalTrackerURL: str(v["externalTrackerUrl"]),
		CustomFields:       v["customFields"],
		IsActive:           v["isActive"] == true,
		CreatedBy:          str(v["createdBy"]),
		UpdatedBy:          str(v["updatedBy"]),
	}
	if n, ok := v["currentValue"].(float64); ok {
		rec.CurrentValue = n
	}
	if t, ok := v["createdAt"].(time.Time); ok {
		rec.CreatedAt = t
	}
	if t, ok := v["updatedAt"].(time.Time); ok {
		rec.UpdatedAt = t
	}
	if n, ok := v["rowVersion"].(int64); ok {
		rec.RowVersion = n
	}
	return rec
}

// ToRelationship builds a Relationship from decoded relationship values.
func ToRelationship(v Values) domain.Relationship {
	rel := domain.Relationship{
		SourceSLAID:      str(v["sourceSlaId"]),
		TargetSLAID:      str(v["targetSlaId"]),
		RelationshipType: str(v["relationshipType"]),
		Notes:            str(v["notes"]),
		CreatedBy:        str(v["createdBy"]),
	}
	if t, ok := v["createdAt"].(time.Time); ok {
		rel.CreatedAt = t
	}
	return rel
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func list(v any) []string {
	if l, ok := v.([]string); ok {
		return l
	}
	return []string{}
}

func floatPtr(v any) *float64 {
	if n, ok := v.(float64); ok {
		return &n
	}
	return nil
}

func timePtr(v any) *time.Time {
	if t, ok := v.(time.Time); ok {
		return &t
	}
	return nil
}

// toFloat reports ok=false for nil and blank strings.
func toFloat(v any) (float64, bool, error) {
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int32:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil, err
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, fmt.Errorf("%q is not a number", n)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%v is not a number", v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int32:
		return b != 0, nil
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("%v is not a boolean", v)
}
