package ingestion

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
	"context"

	"github.com/rs/zerolog"
)

// Applier is the part of core.Engine the processor needs.
type Applier interface {
	Apply(cmd event.Command) (core.Receipt, error)
}

// Processor decodes raw commands and applies them to the engine one at a time.
// Malformed messages are terminated, rejected commands are acknowledged
// (rejections are deterministic, redelivery would fail again) and only
// unclassified failures are NAKed for redelivery.
type Processor struct {
	engine  Applier
	input   <-chan RawCommand
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewProcessor(engine Applier, input <-chan RawCommand, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{engine: engine, input: input, metrics: metrics, logger: logger}
}

// Run blocks until ctx is cancelled or the input channel is closed.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.input:
			if !ok {
				return nil
			}
			p.Handle(raw)
		}
	}
}

// Handle processes a single message and settles it.
func (p *Processor) Handle(raw RawCommand) {
	if p.metrics != nil {
		p.metrics.ChannelSize.WithLabelValues("ingest").Set(float64(len(p.input)))
	}

	cmd, err := ParseRawCommand(raw)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		settle(raw.TermFunc)
		return
	}

	receipt, err := p.engine.Apply(cmd)
	switch {
	case err == nil:
		if receipt.Duplicate {
			p.logger.Debug().
				Str("operation", cmd.CommandType().String()).
				Str("request_id", cmd.IdempotencyKey()).
				Msg("duplicate command skipped")
		}
		settle(raw.AckFunc)
	case errs.KindOf(err) != errs.KindUnknown:
		p.logger.Info().
			Err(err).
			Str("operation", cmd.CommandType().String()).
			Str("request_id", cmd.IdempotencyKey()).
			Str("code", errs.Code(err)).
			Msg("command rejected")
		settle(raw.AckFunc)
	default:
		p.logger.Error().Err(err).Str("operation", cmd.CommandType().String()).Msg("command failed")
		settle(raw.NakFunc)
	}
}

func settle(f func()) {
	if f != nil {
		f()
	}
}
