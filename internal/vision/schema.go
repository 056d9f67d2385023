package vision

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"fitpro/internal/ai"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed vision.schema.json
var visionSchemaJSON []byte

var (
	compileOnce  sync.Once
	visionSchema *jsonschema.Schema
	compileErr   error
)

func outputSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("vision.schema.json", bytes.NewReader(visionSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("vision.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile vision schema: %w", err)
			return
		}
		visionSchema = schema
	})
	return visionSchema, compileErr
}

type aiOutput struct {
	Type                string   `json:"type"`
	Name                string   `json:"name"`
	DoseEstimate        string   `json:"doseEstimate"`
	Calories            *float64 `json:"calories"`
	Protein             *float64 `json:"protein"`
	DetectedIngredients []string `json:"detectedIngredients"`
	Confidence          *float64 `json:"confidence"`
}

// parseAnalysis validates the model's classification against the embedded
// schema and normalizes it. Unknown types become "unknown" and an out of
// range confidence is dropped.
func parseAnalysis(text string) (*Analysis, error) {
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

	a := &Analysis{
		Type:                strings.ToLower(strings.TrimSpace(out.Type)),
		Name:                strings.TrimSpace(out.Name),
		DoseEstimate:        out.DoseEstimate,
		Calories:            out.Calories,
		Protein:             out.Protein,
		DetectedIngredients: out.DetectedIngredients,
	}
	if a.Type != "supplement" && a.Type != "food" {
		a.Type = "unknown"
	}
	if a.DetectedIngredients == nil {
		a.DetectedIngredients = []string{}
	}
	if out.Confidence != nil && *out.Confidence >= 0 && *out.Confidence <= 1 {
		a.Confidence = *out.Confidence
	}
	return a, nil
}
