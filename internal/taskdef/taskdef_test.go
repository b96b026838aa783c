package taskdef

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseMinimalDefinition(t *testing.T) {
	def, err := Parse([]byte(`{"name": "build parser", "amount": "250"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.Name != "build parser" || def.Amount != "250" {
		t.Errorf("unexpected definition: %+v", def)
	}

	req, err := def.ToRequest("alice")
	if err != nil {
		t.Fatalf("ToRequest: %v", err)
	}
	if req.Creator != "alice" {
		t.Errorf("Creator = %q", req.Creator)
	}
	if req.Visibility != "global" {
		t.Errorf("Visibility = %q, want global default", req.Visibility)
	}
	if !req.TotalAmount.Equal(req.TotalAmount.Truncate(0)) || req.TotalAmount.String() != "250" {
		t.Errorf("TotalAmount = %s", req.TotalAmount)
	}
	if req.DesignBps != 0 || req.ImplementationBps != 0 || req.FinalBps != 0 {
		t.Errorf("shares should be unset without a shares block: %d/%d/%d",
			req.DesignBps, req.ImplementationBps, req.FinalBps)
	}
}

func TestParseFullDefinition(t *testing.T) {
	raw := `{
		"name": "api gateway",
		"description": "route requests",
		"acceptance_criteria": "all endpoints return 200",
		"project_id": "proj-1",
		"visibility": "project",
		"tags": ["backend", "urgent"],
		"amount": "120.50",
		"shares": {"design_bps": 2000, "implementation_bps": 6000, "final_bps": 2000}
	}`
	def, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	req, err := def.ToRequest("alice")
	if err != nil {
		t.Fatalf("ToRequest: %v", err)
	}
	if req.Visibility != "project" {
		t.Errorf("Visibility = %q", req.Visibility)
	}
	if len(req.Tags) != 2 {
		t.Errorf("Tags = %v", req.Tags)
	}
	if req.TotalAmount.String() != "120.5" {
		t.Errorf("TotalAmount = %s", req.TotalAmount)
	}
	if req.DesignBps != 2000 || req.ImplementationBps != 6000 || req.FinalBps != 2000 {
		t.Errorf("shares = %d/%d/%d", req.DesignBps, req.ImplementationBps, req.FinalBps)
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing name", `{"amount": "10"}`},
		{"missing amount", `{"name": "x"}`},
		{"numeric amount", `{"name": "x", "amount": 10}`},
		{"negative amount", `{"name": "x", "amount": "-5"}`},
		{"bad visibility", `{"name": "x", "amount": "10", "visibility": "secret"}`},
		{"unknown field", `{"name": "x", "amount": "10", "reward": "10"}`},
		{"partial shares", `{"name": "x", "amount": "10", "shares": {"design_bps": 5000}}`},
		{"not json", `name: x`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.raw)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.json")
	if err := os.WriteFile(path, []byte(`{"name": "from disk", "amount": "42"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def.Name != "from disk" {
		t.Errorf("Name = %q", def.Name)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestToRequestValidatesAmount(t *testing.T) {
	// The schema pattern already blocks this, so construct the struct directly.
	def := &Definition{Name: "x", Amount: "ten"}
	if _, err := def.ToRequest("alice"); err == nil || !strings.Contains(err.Error(), "decimal") {
		t.Errorf("expected decimal parse error, got %v", err)
	}
}
