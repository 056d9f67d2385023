package formula

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"fitpro/internal/ai"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed formula.schema.json
var formulaSchemaJSON []byte

var (
	compileOnce   sync.Once
	formulaSchema *jsonschema.Schema
	compileErr    error
)

func outputSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("formula.schema.json", bytes.NewReader(formulaSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("formula.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile formula schema: %w", err)
			return
		}
		formulaSchema = schema
	})
	return formulaSchema, compileErr
}

// aiOutput is the document the model is asked to produce.
type aiOutput struct {
	Summary struct {
		ProteinNeed    string  `json:"proteinNeed"`
		CreatineNeed   string  `json:"creatineNeed"`
		RecoveryStatus string  `json:"recoveryStatus"`
		EnergyIndex    float64 `json:"energyIndex"`
		StressLevel    string  `json:"stressLevel"`
		Priority       string  `json:"priority"`
	} `json:"summary"`
	Stacks []struct {
		Name     string  `json:"name"`
		Dosage   string  `json:"dosage"`
		Timing   string  `json:"timing"`
		Reason   string  `json:"reason"`
		Priority float64 `json:"priority"`
	} `json:"stacks"`
	Alerts []struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"alerts"`
	ConfidenceScore *float64 `json:"confidenceScore"`
}

// parseOutput decodes and validates the model's JSON document.
func parseOutput(text string) (*aiOutput, error) {
	schema, err := outputSchema()
	if err != nil {
		return nil, err
	}
	raw := []byte(ai.StripCodeFence(text))

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("output does not match schema: %w", err)
	}
	var out aiOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return &out, nil
}
