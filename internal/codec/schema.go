// Package codec converts between header-labelled store rows and API field
// values. The field tables below are the single authority for header names,
// JSON field names, SQL columns and value kinds.
package codec

import (
	"strings"
	"unicode"

	"slam/internal/domain"
	"slam/internal/rowstore"
)

type Kind int

const (
	KindString Kind = iota
	KindText        // free text, filtered by case-insensitive contains
	KindEnum
	KindNumber
	KindInt
	KindBool
	KindDate
	KindTimestamp
	KindList
	KindJSON
)

// Field describes one header.
type Field struct {
	Header   string
	Name     string
	Column   string
	Kind     Kind
	Delim    string
	Enum     []string
	Writable bool
	Computed bool
}

// Schema indexes a field table by header and by field name.
type Schema struct {
	Table    string
	Key      string
	Fields   []Field
	byHeader map[string]Field
	byName   map[string]Field
}

func NewSchema(table, key string, fields []Field) *Schema {
	s := &Schema{
		Table:    table,
		Key:      key,
		Fields:   fields,
		byHeader: make(map[string]Field, len(fields)),
		byName:   make(map[string]Field, len(fields)),
	}
	for i := range s.Fields {
		if s.Fields[i].Name == "" {
			s.Fields[i].Name = HeaderToField(s.Fields[i].Header)
		}
		s.byHeader[s.Fields[i].Header] = s.Fields[i]
		s.byName[s.Fields[i].Name] = s.Fields[i]
	}
	return s
}

func (s *Schema) ByHeader(header string) (Field, bool) {
	f, ok := s.byHeader[header]
	return f, ok
}

func (s *Schema) ByName(name string) (Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// FieldToHeader maps a field name back to its header. ok is false for names
// the schema does not know.
func (s *Schema) FieldToHeader(name string) (string, bool) {
	f, ok := s.byName[name]
	return f.Header, ok
}

// RowTable returns the row store description of the schema.
func (s *Schema) RowTable() rowstore.Table {
	cols := make([]rowstore.Column, 0, len(s.Fields))
	for _, f := range s.Fields {
		cols = append(cols, rowstore.Column{Header: f.Header, Name: f.Column, Computed: f.Computed})
	}
	return rowstore.Table{Name: s.Table, Key: s.Key, Columns: cols}
}

// HeaderToField lower-camel-cases a header: non-alphanumerics separate words
// and are dropped, so "SLA ID" becomes "slaId" and "Progress %" becomes
// "progress".
func HeaderToField(header string) string {
	words := strings.FieldsFunc(header, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 {
			r := []rune(w)
			r[0] = unicode.ToUpper(r[0])
			w = string(r)
		}
		b.WriteString(w)
	}
	return b.String()
}

const (
	HeaderSLAID      = "SLA ID"
	HeaderStatus     = "Status"
	HeaderIsActive   = "Is Active"
	HeaderUpdatedAt  = "Updated At"
	HeaderUpdatedBy  = "Updated By"
	HeaderRowVersion = "Row Version"

	HeaderSource  = "Source SLA ID"
	HeaderTarget  = "Target SLA ID"
	HeaderRelType = "Relationship Type"
)

// SLAs is the record table.
var SLAs = NewSchema("slas", HeaderSLAID, []Field{
	{Header: HeaderSLAID, Column: "sla_id", Kind: KindString},
	{Header: "Parent SLA ID", Column: "parent_sla_id", Kind: KindString, Writable: true},
	{Header: "Name", Column: "name", Kind: KindText, Writable: true},
	{Header: "Type", Column: "type", Kind: KindEnum, Enum: domain.Types, Writable: true},
	{Header: "Description", Column: "description", Kind: KindText, Writable: true},
	{Header: "Team ID", Column: "team_id", Kind: KindString, Writable: true},
	{Header: "Start Date", Column: "start_date", Kind: KindDate, Writable: true},
	{Header: "End Date", Column: "end_date", Kind: KindDate, Writable: true},
	{Header: HeaderStatus, Column: "status", Kind: KindEnum, Enum: domain.Statuses, Writable: true},
	{Header: "Current Value", Column: "current_value", Kind: KindNumber, Writable: true},
	{Header: "Target Value", Column: "target_value", Kind: KindNumber, Writable: true},
	{Header: "Target Range Min", Column: "target_range_min", Kind: KindNumber, Writable: true},
	{Header: "Target Range Max", Column: "target_range_max", Kind: KindNumber, Writable: true},
	{Header: "Use Range", Column: "use_range", Kind: KindBool, Writable: true},
	{Header: "Progress %", Column: "progress", Kind: KindNumber, Computed: true},
	{Header: "Frequency", Column: "frequency", Kind: KindEnum, Enum: domain.Frequencies, Writable: true},
	{Header: "Notification Emails", Column: "notification_emails", Kind: KindList, Delim: ";", Writable: true},
	{Header: "Tags", Column: "tags", Kind: KindList, Delim: ",", Writable: true},
	{Header: "External Tracker URL", Column: "external_tracker_url", Kind: KindText, Writable: true},
	{Header: "Custom Fields", Column: "custom_fields", Kind: KindJSON, Writable: true},
	{Header: HeaderIsActive, Column: "is_active", Kind: KindBool, Writable: true},
	{Header: "Created At", Column: "created_at", Kind: KindTimestamp},
	{Header: "Created By", Column: "created_by", Kind: KindText},
	{Header: HeaderUpdatedAt, Column: "updated_at", Kind: KindTimestamp},
	{Header: HeaderUpdatedBy, Column: "updated_by", Kind: KindText},
	{Header: HeaderRowVersion, Column: "row_version", Kind: KindInt},
})

// Relationships is the relationship table.
var Relationships = NewSchema("sla_relationships", HeaderSource, []Field{
	{Header: HeaderSource, Column: "source_sla_id", Kind: KindString, Writable: true},
	{Header: HeaderTarget, Column: "target_sla_id", Kind: KindString, Writable: true},
	{Header: HeaderRelType, Column: "relationship_type", Kind: KindEnum, Enum: domain.RelationshipTypes, Writable: true},
	{Header: "Notes", Column: "notes", Kind: KindText, Writable: true},
	{Header: "Created At", Column: "created_at", Kind: KindTimestamp},
	{Header: "Created By", Column: "created_by", Kind: KindText},
})
