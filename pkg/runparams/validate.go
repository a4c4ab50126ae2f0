package runparams

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/assets/schemas"
)

var (
	// ErrSchemaNotFound indicates no embedded schema exists for a job type.
	ErrSchemaNotFound = errors.New("parameter schema not found")

	// ErrValidationFailed indicates a parameter document failed schema validation.
	ErrValidationFailed = errors.New("parameter validation failed")
)

type cachedValidator struct {
	once sync.Once
	v    *schema.Validator
	err  error
}

var validators = map[Kind]*cachedValidator{
	KindSynchronize: {},
	KindTransform:   {},
}

// ValidationError is a single schema violation.
type ValidationError struct {
	// Path is the JSON pointer to the offending field (e.g. "/objects/0/type").
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every violation of a document.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("parameter validation failed with %d errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// ValidateRaw checks a raw parameter document against the schema of its kind.
func ValidateRaw(kind Kind, data []byte) error {
	v, err := getValidator(kind)
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(data)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if len(diags) == 0 {
		return nil
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ParseDocument validates and decodes a stored parameter document.
func ParseDocument(kind Kind, data []byte) (Document, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ValidationErrors{{Message: "parameter document is empty"}}
	}
	if err := ValidateRaw(kind, data); err != nil {
		return nil, err
	}

	switch kind {
	case KindSynchronize:
		var doc SynchronizeDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode synchronize parameters: %w", err)
		}
		return doc, nil
	case KindTransform:
		var doc TransformDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode transform parameters: %w", err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("kind %s: %w", kind, ErrUnknownJobType)
}

func schemaFor(kind Kind) []byte {
	switch kind {
	case KindSynchronize:
		return schemasassets.SynchronizeParametersSchema
	case KindTransform:
		return schemasassets.TransformParametersSchema
	}
	return nil
}

// getValidator compiles the embedded schema for a kind once and caches it.
func getValidator(kind Kind) (*schema.Validator, error) {
	cv, ok := validators[kind]
	if !ok {
		return nil, fmt.Errorf("kind %s: %w", kind, ErrUnknownJobType)
	}
	cv.once.Do(func() {
		raw := schemaFor(kind)
		if len(raw) == 0 {
			cv.err = fmt.Errorf("%w: embedded %s schema is empty", ErrSchemaNotFound, kind)
			return
		}
		cv.v, cv.err = schema.NewValidator(raw)
		if cv.err != nil {
			cv.err = fmt.Errorf("failed to compile %s parameter schema: %w", kind, cv.err)
		}
	})
	return cv.v, cv.err
}
