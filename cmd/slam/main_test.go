package main

import "testing"

func TestFieldsFromFlags(t *testing.T) {
	got, err := fieldsFromFlags(`{"name":"Uptime","targetValue":90}`, []string{
		"targetValue=99.9",
		"teamId=TEAM-001",
		"startDate=2024-01-01",
		"useRange=true",
		"tags=[\"core\",\"edge\"]",
	})
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if got["name"] != "Uptime" || got["targetValue"] != 99.9 || got["teamId"] != "TEAM-001" {
		t.Fatalf("fields = %#v", got)
	}
	if got["startDate"] != "2024-01-01" || got["useRange"] != true {
		t.Fatalf("fields = %#v", got)
	}
	if tags, ok := got["tags"].([]any); !ok || len(tags) != 2 {
		t.Fatalf("tags = %#v", got["tags"])
	}

	for _, bad := range []string{"noequals", "=value"} {
		if _, err := fieldsFromFlags("", []string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if _, err := fieldsFromFlags("[1,2]", nil); err == nil {
		t.Fatal("expected error for non-object --data")
	}
}
