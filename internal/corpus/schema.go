package corpus

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jss "github.com/kaptinlin/jsonschema"

	"github.com/conceptmaps/trainsvc/internal/model"
)

//go:embed schemas/training-data.schema.json
var schemaJSON []byte

var ErrInvalid = errors.New("invalid training data")

// Validator checks training data documents against the embedded schema.
type Validator struct {
	schema *jss.Schema
}

func NewValidator() (Validator, error) {
	compiler := jss.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return Validator{}, fmt.Errorf("compiling schema: %w", err)
	}
	return Validator{schema: schema}, nil
}

func (v Validator) Validate(b []byte) error {
	if !json.Valid(b) {
		return fmt.Errorf("%w: malformed JSON", ErrInvalid)
	}
	res := v.schema.Validate(b)
	if !res.Valid {
		var errorMsgs []string
		for _, err := range res.Errors {
			errorMsgs = append(errorMsgs, fmt.Sprintf("%s: %s", err.Keyword, err.Error()))
		}
		return fmt.Errorf("%w:\n%s", ErrInvalid, strings.Join(errorMsgs, "\n"))
	}
	return nil
}

// Parse validates and decodes a training data document.
func (v Validator) Parse(b []byte) ([]model.TrainingRecord, error) {
	if err := v.Validate(b); err != nil {
		return nil, err
	}
	var records []model.TrainingRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return records, nil
}
