package oracle

import (
	"context"
	"errors"
	"log/slog"
)

// Failback asks each oracle in turn and returns the first success. When every oracle
// fails the joined errors are returned.
type Failback struct {
	oracles []ExtractionOracle
	logger  *slog.Logger
}

func NewFailback(oracles ...ExtractionOracle) *Failback {
	return &Failback{oracles: oracles, logger: slog.Default()}
}

func (f *Failback) WithLogger(logger *slog.Logger) *Failback {
	f.logger = logger
	return f
}

func (f *Failback) ExtractFromDocument(ctx context.Context, docType string, doc Document) (map[string]any, error) {
	var errs []error
	for i, o := range f.oracles {
		fields, err := o.ExtractFromDocument(ctx, docType, doc)
		if err == nil {
			return fields, nil
		}
		f.logger.Warn("Document oracle failed", "index", i, "document", docType, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, joined(errs)
}

func (f *Failback) InterpretUserText(ctx context.Context, text string, sc StageContext) (Interpretation, error) {
	var errs []error
	for i, o := range f.oracles {
		interp, err := o.InterpretUserText(ctx, text, sc)
		if err == nil {
			return interp, nil
		}
		f.logger.Warn("Text oracle failed", "index", i, "stage", sc.StageID, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return Interpretation{}, joined(errs)
}

func joined(errs []error) error {
	if len(errs) == 0 {
		return classify(errors.New("no oracle configured"))
	}
	return errors.Join(errs...)
}
