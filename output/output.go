// Package output assembles the final application payload of a completed session.
package output

import (
	"fmt"
	"maps"
	"slices"

	"github.com/bytedance/sonic"
	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

// codec keeps integers integral and encodes maps in key order.
var codec = sonic.Config{
	UseInt64:    true,
	SortMapKeys: true,
}.Froze()

// Payload is the flat field mapping handed to downstream automation.
// MandatoryFieldsPopulated names every collected key holding a value, sorted.
type Payload struct {
	SessionID                string         `json:"session_id"`
	VisaType                 string         `json:"visa_type"`
	Fields                   map[string]any `json:"fields"`
	MandatoryFieldsPopulated []string       `json:"mandatory_fields_populated"`
}

// JSON encodes the payload with sorted keys so equal payloads encode identically.
func (p *Payload) JSON() ([]byte, error) {
	return codec.Marshal(p)
}

type Assembler struct{}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble overlays declared defaults, then handoff data, then collected values, each
// layer a JSON merge patch over the previous one. It does not modify its inputs.
func (a *Assembler) Assemble(s *session.Session, handoff session.HandoffData, def *definition.Definition) (*Payload, error) {
	if !s.Status.IsComplete() {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrWorkflowNotComplete, s.ID, s.Status)
	}

	collected := make(map[string]any, len(s.CollectedData))
	for name, value := range s.CollectedData {
		if !session.IsEmpty(value) {
			collected[name] = value
		}
	}

	doc, err := codec.Marshal(nonNil(def.Defaults()))
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	for _, layer := range []map[string]any{handoff.Map(), collected} {
		patchDoc, err := codec.Marshal(layer)
		if err != nil {
			return nil, fmt.Errorf("encode payload layer: %w", err)
		}
		doc, err = jsonpatch.MergePatch(doc, patchDoc)
		if err != nil {
			return nil, fmt.Errorf("merge payload layer: %w", err)
		}
	}

	fields := map[string]any{}
	if err := codec.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	mandatory := slices.Sorted(maps.Keys(collected))
	if mandatory == nil {
		mandatory = []string{}
	}

	return &Payload{
		SessionID:                s.ID,
		VisaType:                 s.VisaType,
		Fields:                   fields,
		MandatoryFieldsPopulated: mandatory,
	}, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
