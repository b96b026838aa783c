// Package taskdef parses and validates task definition files.
//
// A definition is a JSON document describing a task to post: name, reward
// amount, milestone shares, visibility, and acceptance criteria. Definitions
// are validated against an embedded JSON Schema before being turned into a
// create request, so malformed files fail with a schema error instead of a
// half-created task.
package taskdef

import (
	_ "embed"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/escrow"
	"github.com/x-zero2026/xz-wallet-contract/internal/lifecycle"
)

//go:embed schema.json
var schemaJSON []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Definition is a task definition as read from a JSON file.
type Definition struct {
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	ProjectID          string   `json:"project_id,omitempty"`
	Visibility         string   `json:"visibility,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Amount             string   `json:"amount"`
	Shares             *struct {
		DesignBps         int `json:"design_bps"`
		ImplementationBps int `json:"implementation_bps"`
		FinalBps          int `json:"final_bps"`
	} `json:"shares,omitempty"`
}

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("taskdef.json", doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("taskdef.json")
	})
	return compiled, compileErr
}

// Parse validates raw JSON against the definition schema and decodes it.
func Parse(data []byte) (*Definition, error) {
	s, err := schema()
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("definition does not match schema: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return &def, nil
}

// Load reads and parses a definition file from disk.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}
	return Parse(data)
}

// ToRequest converts the definition into a create request for the given
// creator. Amounts are re-parsed here so a schema-valid but non-decimal
// amount still fails cleanly.
func (d *Definition) ToRequest(creator string) (lifecycle.CreateTaskRequest, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return lifecycle.CreateTaskRequest{}, fmt.Errorf("%w: amount %q is not a decimal", escrow.ErrInvalidAmount, d.Amount)
	}

	req := lifecycle.CreateTaskRequest{
		Creator:            creator,
		ProjectID:          d.ProjectID,
		Name:               d.Name,
		Description:        d.Description,
		AcceptanceCriteria: d.AcceptanceCriteria,
		Visibility:         d.Visibility,
		Tags:               d.Tags,
		TotalAmount:        amount,
	}
	if req.Visibility == "" {
		req.Visibility = escrow.VisibilityGlobal
	}
	if d.Shares != nil {
		req.DesignBps = d.Shares.DesignBps
		req.ImplementationBps = d.Shares.ImplementationBps
		req.FinalBps = d.Shares.FinalBps
	}
	return req, nil
}
