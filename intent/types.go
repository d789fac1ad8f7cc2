// Package intent classifies inbound user text into exactly one workflow intent.
package intent

import (
	"context"

	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/types"
)

type Request struct {
	Text        string
	Context     oracle.StageContext
	Interrupted bool
}

type Classification struct {
	Intent        types.Intent   `json:"intent"`
	Fields        map[string]any `json:"fields,omitempty"`
	StageComplete bool           `json:"stage_complete"`
}

type Recognizer interface {
	RecognizeIntent(ctx context.Context, req *Request) (Classification, error)
}

// OracleRecognizer delegates to the text oracle.
type OracleRecognizer struct {
	oracle oracle.ExtractionOracle
}

func NewOracleRecognizer(o oracle.ExtractionOracle) *OracleRecognizer {
	return &OracleRecognizer{oracle: o}
}

func (r *OracleRecognizer) RecognizeIntent(ctx context.Context, req *Request) (Classification, error) {
	interp, err := r.oracle.InterpretUserText(ctx, req.Text, req.Context)
	if err != nil {
		return Classification{Intent: types.IntentProgress}, err
	}
	return Classification{
		Intent:        interp.Intent,
		Fields:        interp.Fields,
		StageComplete: interp.StageComplete,
	}, nil
}

// FailbackRecognizer returns the first classification that succeeds.
type FailbackRecognizer struct {
	recognizers []Recognizer
}

func NewFailbackRecognizer(recognizers ...Recognizer) *FailbackRecognizer {
	return &FailbackRecognizer{recognizers: recognizers}
}

func (r *FailbackRecognizer) RecognizeIntent(ctx context.Context, req *Request) (Classification, error) {
	var lastErr error
	for _, recognizer := range r.recognizers {
		c, err := recognizer.RecognizeIntent(ctx, req)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return Classification{Intent: types.IntentProgress}, lastErr
}
