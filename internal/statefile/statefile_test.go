package statefile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/overseer-dev/overseer/internal/statefile"
)

type testState struct {
	Count  int    `json:"count"`
	Reason string `json:"reason,omitempty"`
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := statefile.New(path)

	if err := f.Save(testState{Count: 3, Reason: "rate limit"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got testState
	ok, err := statefile.New(path).Load(&got)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected load to find the file")
	}
	if got.Count != 3 || got.Reason != "rate limit" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	f := statefile.New(filepath.Join(t.TempDir(), "absent.json"))

	got := testState{Count: 7}
	ok, err := f.Load(&got)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("missing file should report not found")
	}
	if got.Count != 7 {
		t.Fatalf("missing file must leave value untouched, got %+v", got)
	}
}

func TestLoad_CorruptFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got testState
	ok, err := statefile.New(path).Load(&got)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("corrupt file should report not found")
	}
	if got != (testState{}) {
		t.Fatalf("corrupt file must not populate state, got %+v", got)
	}
}

func TestSave_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := statefile.New(path)

	if err := f.Save(testState{Count: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.Save(testState{Count: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got testState
	if _, err := f.Load(&got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("expected latest write to win, got %+v", got)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := statefile.New(path)

	if err := f.Save(testState{Count: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("remove of missing file should succeed: %v", err)
	}

	ok, err := f.Load(&testState{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("file should be gone")
	}
}
