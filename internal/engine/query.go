package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"slam/internal/codec"
	"slam/internal/domain"
)

type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty" enum:"asc,desc"`
}

type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// QueryOptions selects, orders and pages records. Filters maps a field name
// to a scalar (exact or contains match), a {start,end} object (inclusive
// range) or an array (any-of match). Names outside the schema are matched
// against customFields.
type QueryOptions struct {
	Filters    map[string]any `json:"filters,omitempty"`
	Sort       *Sort          `json:"sort,omitempty"`
	Pagination *Pagination    `json:"pagination,omitempty"`
}

type QueryResult struct {
	Data     []domain.Record `json:"data"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

// Query runs load, filter, total, sort and paginate in that order.
func (e Engine) Query(ctx context.Context, opts QueryOptions) (res QueryResult, err error) {
	defer func() { e.observe("query", err) }()
	rows, err := e.Records.Scan(ctx, e.DB)
	if err != nil {
		return QueryResult{}, err
	}
	matched := make([]codec.Values, 0, len(rows))
	for _, row := range rows {
		v := codec.SLAs.DecodeRow(row)
		ok, err := matchesAll(v, opts.Filters)
		if err != nil {
			return QueryResult{}, err
		}
		if ok {
			matched = append(matched, v)
		}
	}
	total := len(matched)

	if opts.Sort != nil && opts.Sort.Field != "" {
		desc := strings.EqualFold(opts.Sort.Direction, "desc")
		field := opts.Sort.Field
		sort.SliceStable(matched, func(i, j int) bool {
			c := compareValues(lookup(matched[i], field), lookup(matched[j], field))
			if desc {
				c = -c
			}
			return c < 0
		})
	}

	page, pageSize := 1, total
	if p := opts.Pagination; p != nil && p.PageSize > 0 {
		page, pageSize = p.Page, p.PageSize
		if page < 1 {
			page = 1
		}
		start := (page - 1) * pageSize
		end := start + pageSize
		if start > len(matched) {
			start = len(matched)
		}
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}

	data := make([]domain.Record, 0, len(matched))
	for _, v := range matched {
		data = append(data, codec.ToRecord(v))
	}
	if opts.Pagination == nil || opts.Pagination.PageSize <= 0 {
		pageSize = len(data)
	}
	return QueryResult{Data: data, Total: total, Page: page, PageSize: pageSize}, nil
}

// lookup resolves a schema field or, failing that, a customFields entry.
func lookup(v codec.Values, name string) any {
	if _, ok := codec.SLAs.ByName(name); ok {
		return v[name]
	}
	if cf, ok := v["customFields"].(map[string]any); ok {
		return cf[name]
	}
	return nil
}

func matchesAll(v codec.Values, filters map[string]any) (bool, error) {
	for name, want := range filters {
		f, known := codec.SLAs.ByName(name)
		got := lookup(v, name)
		ok, err := matchOne(f, known, got, want)
		if err != nil {
			return false, ValidationError{Field: name, Message: fmt.Sprintf("filter %s: %v", name, err)}
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchOne(f codec.Field, known bool, got, want any) (bool, error) {
	switch w := want.(type) {
	case map[string]any:
		if _, hasStart := w["start"]; hasStart {
			return inRange(got, w["start"], w["end"])
		}
		if _, hasEnd := w["end"]; hasEnd {
			return inRange(got, nil, w["end"])
		}
		return false, fmt.Errorf("object filters need start or end")
	case []any:
		if list, ok := got.([]string); ok {
			for _, candidate := range w {
				for _, item := range list {
					if fmt.Sprint(candidate) == item {
						return true, nil
					}
				}
			}
			return false, nil
		}
		if arr, ok := got.([]any); ok {
			for _, candidate := range w {
				for _, item := range arr {
					if equalScalar(item, candidate) {
						return true, nil
					}
				}
			}
			return false, nil
		}
		for _, candidate := range w {
			if matchScalar(f, known, got, candidate) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		anyOf := make([]any, len(w))
		for i, s := range w {
			anyOf[i] = s
		}
		return matchOne(f, known, got, anyOf)
	}
	return matchScalar(f, known, got, want), nil
}

func matchScalar(f codec.Field, known bool, got, want any) bool {
	if list, ok := got.([]string); ok {
		s := fmt.Sprint(want)
		for _, item := range list {
			if item == s {
				return true
			}
		}
		return false
	}
	if known && f.Kind == codec.KindText {
		if want == nil {
			return got == ""
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(got)), strings.ToLower(fmt.Sprint(want)))
	}
	if known && (f.Kind == codec.KindDate || f.Kind == codec.KindTimestamp) {
		gt, ok := got.(time.Time)
		ws, isStr := want.(string)
		if !ok || !isStr {
			return got == nil && want == nil
		}
		wt, err := codec.ParseTime(ws)
		return err == nil && gt.Equal(wt)
	}
	return equalScalar(got, want)
}

// equalScalar compares numbers numerically, bools by value, anything else
// by its string form. Empty strings and nil are equal.
func equalScalar(got, want any) bool {
	if _, isString := got.(string); !isString {
		if gn, ok := number(got); ok {
			wn, ok := number(want)
			return ok && gn == wn
		}
	}
	if gb, ok := got.(bool); ok {
		switch w := want.(type) {
		case bool:
			return gb == w
		case string:
			b, err := strconv.ParseBool(w)
			return err == nil && gb == b
		}
		return false
	}
	if isEmpty(got) || isEmpty(want) {
		return isEmpty(got) && isEmpty(want)
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func inRange(got, start, end any) (bool, error) {
	if gn, ok := number(got); ok {
		if start != nil {
			s, ok := number(start)
			if !ok {
				return false, fmt.Errorf("range start %v is not a number", start)
			}
			if gn < s {
				return false, nil
			}
		}
		if end != nil {
			e, ok := number(end)
			if !ok {
				return false, fmt.Errorf("range end %v is not a number", end)
			}
			if gn > e {
				return false, nil
			}
		}
		return true, nil
	}
	var gt time.Time
	switch g := got.(type) {
	case time.Time:
		gt = g
	case string:
		t, err := codec.ParseTime(g)
		if err != nil {
			return false, nil
		}
		gt = t
	default:
		return false, nil
	}
	if s, ok := start.(string); ok && s != "" {
		st, err := codec.ParseTime(s)
		if err != nil {
			return false, err
		}
		if gt.Before(st) {
			return false, nil
		}
	}
	if e, ok := end.(string); ok && e != "" {
		et, err := codec.ParseTime(e)
		if err != nil {
			return false, err
		}
		if gt.After(et) {
			return false, nil
		}
	}
	return true, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && strings.TrimSpace(n) != ""
	}
	return 0, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// compareValues orders typed values. Missing values sort lowest.
func compareValues(a, b any) int {
	switch {
	case isEmpty(a) && isEmpty(b):
		return 0
	case isEmpty(a):
		return -1
	case isEmpty(b):
		return 1
	}
	switch av := a.(type) {
	case float64, int64, int:
		an, _ := number(av)
		if bn, ok := number(b); ok {
			return cmpOrdered(an, bn)
		}
	case time.Time:
		if bt, ok := b.(time.Time); ok {
			return av.Compare(bt)
		}
	case bool:
		if bb, ok := b.(bool); ok {
			switch {
			case av == bb:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case []string:
		if bl, ok := b.([]string); ok {
			return strings.Compare(strings.Join(av, ","), strings.Join(bl, ","))
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
