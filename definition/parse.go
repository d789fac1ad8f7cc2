package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromName picks the source format by file extension.
func FormatFromName(name string) (Format, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

type rawWorkflow struct {
	VisaType      string         `json:"visa_type"`
	Version       string         `json:"version"`
	Description   string         `json:"workflow_description"`
	Stages        []rawStage     `json:"collection_sequence"`
	DefaultValues map[string]any `json:"default_values"`
}

type rawStage struct {
	ID          string           `json:"stage"`
	Title       string           `json:"stage_title"`
	Description string           `json:"stage_description"`
	Documents   []rawRequirement `json:"required_documents"`
	Fields      rawFields        `json:"fields"`
}

type rawRequirement struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    *bool    `json:"required"`
	Extracts    []string `json:"extracts"`
}

type rawField struct {
	FieldType        string     `json:"field_type"`
	Required         *bool      `json:"required"`
	ExtractionMethod string     `json:"extraction_method"`
	OverwritePolicy  string     `json:"overwrite_policy"`
	Validation       Validation `json:"validation"`
	Options          []string   `json:"options"`
	PromptHint       string     `json:"prompt_hint"`
	Prompt           string     `json:"prompt"`
	DerivedFrom      string     `json:"derived_from"`
	Default          any        `json:"default"`
}

type rawFieldEntry struct {
	name string
	spec rawField
}

// rawFields keeps the declaration order of a stage's field object.
type rawFields []rawFieldEntry

func (f *rawFields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("fields must be an object")
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var spec rawField
		if err = dec.Decode(&spec); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		*f = append(*f, rawFieldEntry{name: name, spec: spec})
	}
	_, err = dec.Token()
	return err
}

// Parse decodes, structurally validates and semantically validates one definition document.
func Parse(raw []byte, format Format) (*Definition, error) {
	data, err := toJSON(raw, format)
	if err != nil {
		return nil, &MalformedError{Issues: []Issue{{Message: err.Error()}}}
	}
	var generic any
	if err = json.Unmarshal(data, &generic); err != nil {
		return nil, &MalformedError{Issues: []Issue{{Message: err.Error()}}}
	}
	issues, err := validateStructure(generic)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, &MalformedError{VisaType: peekVisaType(generic), Issues: issues}
	}
	var doc rawWorkflow
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedError{VisaType: peekVisaType(generic), Issues: []Issue{{Message: err.Error()}}}
	}
	def, issues := build(&doc)
	if len(issues) > 0 {
		return nil, &MalformedError{VisaType: doc.VisaType, Issues: issues}
	}
	return def, nil
}

func toJSON(raw []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return raw, nil
	case FormatYAML:
		return yamlToJSON(raw)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
}

func peekVisaType(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	name, _ := obj["visa_type"].(string)
	return name
}

// yamlToJSON re-encodes a YAML document as JSON, keeping mapping key order.
func yamlToJSON(raw []byte) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("empty yaml document")
	}
	var buf bytes.Buffer
	if err := writeNode(&buf, &root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		return writeNode(buf, node.Content[0])
	case yaml.AliasNode:
		return writeNode(buf, node.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(node.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err = writeNode(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.ScalarNode:
		var value any
		if err := node.Decode(&value); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		buf.Write(encoded)
	default:
		return fmt.Errorf("line %d: unsupported yaml node", node.Line)
	}
	return nil
}
