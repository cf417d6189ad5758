package boardsync_test

import (
	"encoding/json"
	"testing"

	"github.com/overseer-dev/overseer/internal/boardsync"
)

func TestCoerceItems_BareArray(t *testing.T) {
	raw := json.RawMessage(`[{"number":1,"title":"fix bug","state":"open"}]`)

	co := boardsync.CoerceItems(raw)
	if !co.ValidShape {
		t.Fatal("bare array is a valid shape")
	}
	if len(co.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(co.Items))
	}
	item := co.Items[0]
	if item.Number != 1 || item.Title != "fix bug" {
		t.Fatalf("item fields lost: %+v", item)
	}
	if item.ExternalID != "1" {
		t.Fatalf("expected number fallback for external id, got %q", item.ExternalID)
	}
	if item.Status != "open" {
		t.Fatalf("state should populate status, got %q", item.Status)
	}
}

func TestCoerceItems_Envelopes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"data_items", `{"data":{"items":[{"id":"I_1","title":"a"}]}}`},
		{"items", `{"items":[{"id":"I_1","title":"a"}]}`},
		{"nodes", `{"nodes":[{"id":"I_1","title":"a"}]}`},
		{"edges", `{"edges":[{"node":{"id":"I_1","title":"a"}}]}`},
		{"data_nodes", `{"data":{"nodes":[{"id":"I_1","title":"a"}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			co := boardsync.CoerceItems(json.RawMessage(tc.raw))
			if !co.ValidShape {
				t.Fatalf("%s should be a valid shape", tc.name)
			}
			if len(co.Items) != 1 || co.Items[0].ExternalID != "I_1" {
				t.Fatalf("%s: unexpected items %+v", tc.name, co.Items)
			}
		})
	}
}

func TestCoerceItems_InvalidPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"null", `null`},
		{"string", `"oops"`},
		{"number", `42`},
		{"bool", `true`},
		{"empty", ``},
		{"unrecognized_object", `{"message":"ok"}`},
		{"malformed", `{"items":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			co := boardsync.CoerceItems(json.RawMessage(tc.raw))
			if co.ValidShape {
				t.Fatalf("%s must not be a valid shape", tc.name)
			}
			if co.Items == nil || len(co.Items) != 0 {
				t.Fatalf("%s must coerce to an empty item list, got %+v", tc.name, co.Items)
			}
		})
	}
}

func TestCoerceItems_LabelsAndAssignees(t *testing.T) {
	raw := json.RawMessage(`[
		{"number":1,"title":"a","labels":["bug","urgent"],"assignee":{"login":"alice"}},
		{"number":2,"title":"b","labels":[{"name":"chore"}],"assignees":[{"login":"bob"}]}
	]`)

	co := boardsync.CoerceItems(raw)
	if len(co.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(co.Items))
	}
	if got := co.Items[0].Labels; len(got) != 2 || got[0] != "bug" {
		t.Fatalf("plain label list lost: %v", got)
	}
	if co.Items[0].Assignee != "alice" {
		t.Fatalf("assignee lost: %q", co.Items[0].Assignee)
	}
	if got := co.Items[1].Labels; len(got) != 1 || got[0] != "chore" {
		t.Fatalf("object label list lost: %v", got)
	}
	if co.Items[1].Assignee != "bob" {
		t.Fatalf("assignees[0] should win: %q", co.Items[1].Assignee)
	}
}

func TestCoerceItems_ProjectContent(t *testing.T) {
	raw := json.RawMessage(`{"nodes":[
		{"id":"PVTI_1","status":"In Progress","content":{"number":7,"title":"ship it","body":"details"}}
	]}`)

	co := boardsync.CoerceItems(raw)
	if len(co.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(co.Items))
	}
	item := co.Items[0]
	if item.Title != "ship it" || item.Number != 7 || item.Body != "details" {
		t.Fatalf("nested content fields lost: %+v", item)
	}
	if item.Status != "In Progress" {
		t.Fatalf("project status lost: %q", item.Status)
	}
}

func TestCoerceItem_SingleForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bare", `{"id":"I_9","title":"a"}`},
		{"item", `{"item":{"id":"I_9","title":"a"}}`},
		{"node", `{"node":{"id":"I_9","title":"a"}}`},
		{"data_item", `{"data":{"item":{"id":"I_9","title":"a"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item, ok := boardsync.CoerceItem(json.RawMessage(tc.raw))
			if !ok {
				t.Fatalf("%s should decode", tc.name)
			}
			if item.ExternalID != "I_9" {
				t.Fatalf("%s: unexpected item %+v", tc.name, item)
			}
		})
	}

	if _, ok := boardsync.CoerceItem(json.RawMessage(`null`)); ok {
		t.Fatal("null must not decode")
	}
	if _, ok := boardsync.CoerceItem(json.RawMessage(`"nope"`)); ok {
		t.Fatal("primitive must not decode")
	}
}
