package oracle

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/tbxark/visaflow/types"
)

type CallKind string

const (
	CallExtract   CallKind = "extract"
	CallInterpret CallKind = "interpret"
)

type StaticCall struct {
	Kind  CallKind
	Input string
	Stage string
}

// Static is a deterministic oracle. Text is matched case-insensitively after trimming.
// Unscripted text reads as progress with no fields; unscripted documents yield nothing.
type Static struct {
	mu              sync.Mutex
	extractions     map[string]map[string]any
	interpretations map[string]Interpretation
	fallback        Interpretation
	err             error
	delay           time.Duration
	calls           []StaticCall
}

func NewStatic() *Static {
	return &Static{
		extractions:     map[string]map[string]any{},
		interpretations: map[string]Interpretation{},
		fallback:        Interpretation{Intent: types.IntentProgress},
	}
}

func (s *Static) OnDocument(docType string, fields map[string]any) *Static {
	s.mu.Lock()
	s.extractions[docType] = fields
	s.mu.Unlock()
	return s
}

func (s *Static) OnText(text string, interp Interpretation) *Static {
	s.mu.Lock()
	s.interpretations[normalizeText(text)] = interp
	s.mu.Unlock()
	return s
}

func (s *Static) Fallback(interp Interpretation) *Static {
	s.mu.Lock()
	s.fallback = interp
	s.mu.Unlock()
	return s
}

// Fail makes every later call return err. A nil err restores scripted answers.
func (s *Static) Fail(err error) *Static {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return s
}

// Delay makes every call sleep for d without watching its context.
func (s *Static) Delay(d time.Duration) *Static {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
	return s
}

func (s *Static) Calls() []StaticCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StaticCall(nil), s.calls...)
}

func (s *Static) record(call StaticCall) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.delay, s.err
}

func (s *Static) ExtractFromDocument(ctx context.Context, docType string, doc Document) (map[string]any, error) {
	delay, err := s.record(StaticCall{Kind: CallExtract, Input: docType})
	time.Sleep(delay)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.extractions[docType]), nil
}

func (s *Static) InterpretUserText(ctx context.Context, text string, sc StageContext) (Interpretation, error) {
	delay, err := s.record(StaticCall{Kind: CallInterpret, Input: text, Stage: sc.StageID})
	time.Sleep(delay)
	if err != nil {
		return Interpretation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	interp, ok := s.interpretations[normalizeText(text)]
	if !ok {
		interp = s.fallback
	}
	interp.Fields = maps.Clone(interp.Fields)
	return interp, nil
}

func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
