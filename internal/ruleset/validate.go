package ruleset

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError is one schema violation with the document path that
// triggered it.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors aggregates every violation found in one document.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

// ValidateDocument checks raw YAML against the embedded schema. Returns
// ValidationErrors describing every violation, or nil if the document
// conforms.
func ValidateDocument(data []byte) error {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return ValidationErrors{{Message: fmt.Sprintf("not valid YAML: %v", err)}}
	}
	if tree == nil {
		return ValidationErrors{{Message: "empty document"}}
	}

	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		// The schema is embedded at build time; failing to compile it is
		// a programming error, not a user input error.
		panic(fmt.Sprintf("embedded schema does not compile: %v", err))
	}

	doc := ctx.Encode(tree)
	if err := doc.Err(); err != nil {
		return ValidationErrors{{Message: fmt.Sprintf("encoding document: %v", err)}}
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		out = append(out, &ValidationError{
			Path:    strings.Join(errors.Path(e), "."),
			Message: e.Error(),
		})
	}
	if len(out) == 0 {
		out = append(out, &ValidationError{Message: err.Error()})
	}
	return out
}
