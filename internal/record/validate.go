package record

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// Collection names persisted by the local store.
const (
	CollectionEntities = "entities"
	CollectionReviews  = "reviews"
	CollectionOutbox   = "outbox"
)

// ValidationError reports a document rejected at the storage boundary.
type ValidationError struct {
	Collection string
	Message    string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s record: %s", e.Collection, e.Message)
}

// Validator checks documents against the per-collection CUE schemas before
// they reach storage. Malformed upserts are rejected rather than silently
// stored as partial documents.
//
// Thread-safety: Validator is safe for concurrent use; cue.Value unification
// does not mutate the compiled schema.
type Validator struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
}

var (
	validatorOnce sync.Once
	validator     *Validator
	validatorErr  error
)

// NewValidator compiles the embedded schemas. The process-wide instance from
// DefaultValidator is sufficient for almost all callers.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaCUE)
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile record schemas: %w", err)
	}

	schemas := map[string]cue.Value{
		CollectionEntities: root.LookupPath(cue.ParsePath("#Entity")),
		CollectionReviews:  root.LookupPath(cue.ParsePath("#Review")),
	}
	for name, v := range schemas {
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("lookup %s schema: %w", name, err)
		}
	}

	return &Validator{ctx: ctx, schemas: schemas}, nil
}

// DefaultValidator returns the shared process-wide validator, compiling the
// schemas on first use.
func DefaultValidator() (*Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = NewValidator()
	})
	return validator, validatorErr
}

// Validate checks a document against its collection schema.
//
// Collections without a registered schema (the outbox stores structured rows,
// not opaque documents) only require a well-formed id.
func (v *Validator) Validate(collection string, rec Record) error {
	if rec == nil {
		return &ValidationError{Collection: collection, Message: "document is nil"}
	}
	if _, err := rec.Key(); err != nil {
		return &ValidationError{Collection: collection, Message: err.Error()}
	}

	schema, ok := v.schemas[collection]
	if !ok {
		return nil
	}

	doc := v.ctx.Encode(map[string]any(rec))
	if err := doc.Err(); err != nil {
		return &ValidationError{Collection: collection, Message: err.Error()}
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Collection: collection, Message: err.Error()}
	}
	return nil
}
