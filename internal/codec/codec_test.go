package codec

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestHeaderToField(t *testing.T) {
	cases := map[string]string{
		"SLA ID":               "slaId",
		"Target Range Max":     "targetRangeMax",
		"Progress %":           "progress",
		"External Tracker URL": "externalTrackerUrl",
		"Is Active":            "isActive",
		"Source SLA ID":        "sourceSlaId",
	}
	for header, want := range cases {
		if got := HeaderToField(header); got != want {
			t.Fatalf("HeaderToField(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestSchemaMapsBothWays(t *testing.T) {
	for _, f := range SLAs.Fields {
		header, ok := SLAs.FieldToHeader(f.Name)
		if !ok || header != f.Header {
			t.Fatalf("FieldToHeader(%q) = %q, %v", f.Name, header, ok)
		}
		back, ok := SLAs.ByHeader(f.Header)
		if !ok || back.Name != f.Name {
			t.Fatalf("ByHeader(%q) = %+v", f.Header, back)
		}
	}
	if _, ok := SLAs.FieldToHeader("nope"); ok {
		t.Fatalf("unknown field should not map")
	}
}

func TestListRoundTrip(t *testing.T) {
	emails, _ := SLAs.ByName("notificationEmails")
	tags, _ := SLAs.ByName("tags")

	cell, err := Encode(emails, []any{"a@x.com", "b@x.com"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if cell != "a@x.com;b@x.com" {
		t.Fatalf("emails cell = %v", cell)
	}
	if got := Decode(emails, cell); !reflect.DeepEqual(got, []string{"a@x.com", "b@x.com"}) {
		t.Fatalf("emails decode = %v", got)
	}

	cell, _ = Encode(tags, []string{"p1", "ops"})
	if cell != "p1,ops" {
		t.Fatalf("tags cell = %v", cell)
	}
	if got := Decode(tags, "p1,, ops ,"); !reflect.DeepEqual(got, []string{"p1", "ops"}) {
		t.Fatalf("tags decode dropped empties wrong: %v", got)
	}
	if got := Decode(tags, nil); !reflect.DeepEqual(got, []string{}) {
		t.Fatalf("nil tags decode = %#v", got)
	}
}

func TestJSONFallsBackToRawString(t *testing.T) {
	f, _ := SLAs.ByName("customFields")
	cell, err := Encode(f, map[string]any{"region": "eu"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok := Decode(f, cell).(map[string]any)
	if !ok || got["region"] != "eu" {
		t.Fatalf("decode = %#v", Decode(f, cell))
	}
	if raw := Decode(f, "{not json"); raw != "{not json" {
		t.Fatalf("fallback = %#v", raw)
	}
}

func TestDates(t *testing.T) {
	f, _ := SLAs.ByName("startDate")
	cell, err := Encode(f, "2024-01-01")
	if err != nil || cell != "2024-01-01" {
		t.Fatalf("encode date = %v, %v", cell, err)
	}
	got, ok := Decode(f, cell).(time.Time)
	if !ok || !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("decode date = %v", got)
	}
	cell, _ = Encode(f, "2024-01-01T10:30:00Z")
	if cell != "2024-01-01T10:30:00Z" {
		t.Fatalf("encode timestamp = %v", cell)
	}
	if _, err := Encode(f, "yesterday"); err == nil {
		t.Fatalf("expected date error")
	}
}

func TestEncodeValidatesKinds(t *testing.T) {
	typ, _ := SLAs.ByName("type")
	if _, err := Encode(typ, "bogus"); err == nil {
		t.Fatalf("expected enum error")
	}
	if v, err := Encode(typ, "availability"); err != nil || v != "availability" {
		t.Fatalf("enum encode = %v, %v", v, err)
	}
	num, _ := SLAs.ByName("targetValue")
	if _, err := Encode(num, "abc"); err == nil {
		t.Fatalf("expected number error")
	}
	if v, _ := Encode(num, "99.5"); v != 99.5 {
		t.Fatalf("numeric string = %v", v)
	}
	team, _ := SLAs.ByName("teamId")
	if v, err := Encode(team, 1.0); err != nil || v != "1" {
		t.Fatalf("number into string field = %v, %v", v, err)
	}
	if v, _ := Encode(team, json.Number("42")); v != "42" {
		t.Fatalf("json.Number into string field = %v", v)
	}
	if _, err := Encode(team, []any{"a"}); err == nil {
		t.Fatalf("expected error for list in string field")
	}
	b, _ := SLAs.ByName("isActive")
	if v, _ := Encode(b, false); v != int64(0) {
		t.Fatalf("bool encode = %v", v)
	}
	if Decode(b, int64(1)) != true {
		t.Fatalf("bool decode")
	}
}

func TestSanitizeUpdatesDropsProtected(t *testing.T) {
	in := map[string]any{"name": "x", "rowVersion": 9, "updatedBy": "evil", "progress": 100, "slaId": "SLA-9"}
	got := SanitizeUpdates(in)
	if !reflect.DeepEqual(got, map[string]any{"name": "x"}) {
		t.Fatalf("sanitized = %v", got)
	}
	if len(in) != 5 {
		t.Fatalf("input mutated")
	}
}
