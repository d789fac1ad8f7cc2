package definition

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tbxark/visaflow/types"
)

//go:embed definition.schema.json
var documentSchema []byte

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// Issue is a single problem found in a definition document.
type Issue struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

// MalformedError lists every structural and semantic problem of one document.
type MalformedError struct {
	VisaType string
	Issues   []Issue
}

func (e *MalformedError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		location := issue.Location
		if location == "" {
			location = "#"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", location, issue.Message))
	}
	name := e.VisaType
	if name == "" {
		name = "<unknown>"
	}
	return fmt.Sprintf("%s: %s: %s", types.ErrDefinitionMalformed.Error(), name, strings.Join(parts, "; "))
}

func (e *MalformedError) Unwrap() error {
	return types.ErrDefinitionMalformed
}

func documentValidator() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("definition.schema.json", bytes.NewReader(documentSchema)); err != nil {
			compileErr = err
			return
		}
		compiledSchema, compileErr = compiler.Compile("definition.schema.json")
	})
	return compiledSchema, compileErr
}

// validateStructure checks doc, decoded as generic JSON, against the embedded schema.
func validateStructure(doc any) ([]Issue, error) {
	schema, err := documentValidator()
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return nil, err
	}
	return collectIssues(validationErr), nil
}

func collectIssues(err *jsonschema.ValidationError) []Issue {
	var issues []Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if node == nil {
			return
		}
		if len(node.Causes) == 0 {
			issues = append(issues, Issue{
				Location: strings.TrimSpace(node.InstanceLocation),
				Message:  strings.TrimSpace(node.Message),
			})
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(err)
	return issues
}
