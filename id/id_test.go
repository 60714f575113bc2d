package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/backlog/id"
)

func TestConstructorsCarryPrefix(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"RequestID", id.NewRequestID, "req_"},
		{"ResultID", id.NewResultID, "res_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.newFn().String(); !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.NewRequestID()
	parsed, err := id.ParseRequestID(original.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", parsed, original)
	}
}

func TestParseRejectsWrongPrefix(t *testing.T) {
	if _, err := id.ParseResultID(id.NewRequestID().String()); err == nil {
		t.Fatal("expected error parsing a request ID as a result ID")
	}
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestNilBehaviour(t *testing.T) {
	var i id.ID
	if !i.IsNil() || i.String() != "" {
		t.Fatalf("zero ID should be nil and empty, got %q", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Fatalf("Nil.Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestScan(t *testing.T) {
	want := id.NewWorkerID()

	var fromString id.ID
	if err := fromString.Scan(want.String()); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(want.String())); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if fromString.String() != want.String() || fromBytes.String() != want.String() || !fromNil.IsNil() {
		t.Fatalf("unexpected scan results: %q %q %q", fromString, fromBytes, fromNil)
	}
	if err := fromNil.Scan(42); err == nil {
		t.Fatal("expected error scanning int")
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		ID id.ResultID `json:"id"`
	}
	in := wrapper{ID: id.NewResultID()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID.String() != in.ID.String() {
		t.Errorf("got %q, want %q", out.ID, in.ID)
	}
}
