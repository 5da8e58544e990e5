package ingestion

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// AuditSubjectPrefix is the outbound audit namespace: cover.audit.<operation>.
const AuditSubjectPrefix = "cover.audit."

// StreamPublisher is satisfied by jetstream.JetStream.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// AuditPublisher publishes audit envelopes for downstream consumers.
// Publishing is best effort; the persisted audit log is authoritative.
type AuditPublisher struct {
	js        StreamPublisher
	inputChan <-chan core.Output
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewAuditPublisher(js StreamPublisher, inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *AuditPublisher {
	return &AuditPublisher{
		js:        js,
		inputChan: inputChan,
		timeout:   5 * time.Second,
		metrics:   metrics,
		logger:    logger,
	}
}

// AuditSubject returns the subject an envelope is published on.
func AuditSubject(env *event.Envelope) string {
	return AuditSubjectPrefix + env.CommandType.String()
}

// Run publishes until ctx is cancelled or the input channel is closed.
func (ap *AuditPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-ap.inputChan:
			if !ok {
				return nil
			}
			if err := ap.publish(ctx, out.Envelope); err != nil {
				ap.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("audit publish failed")
			}
			if ap.metrics != nil {
				ap.metrics.ChannelSize.WithLabelValues("publish").Set(float64(len(ap.inputChan)))
			}
		}
	}
}

func (ap *AuditPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "marshal envelope")
	}

	ctx, cancel := context.WithTimeout(ctx, ap.timeout)
	defer cancel()

	_, err = ap.js.Publish(ctx, AuditSubject(env), data,
		jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)),
	)
	return err
}

// PublishCommand sends cmd to its inbound subject. The request id doubles as
// the JetStream message id so a resent command is dropped by the stream.
func PublishCommand(ctx context.Context, js StreamPublisher, cmd event.Command) (*jetstream.PubAck, error) {
	if err := validateMeta(cmd); err != nil {
		return nil, err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, eris.Wrap(err, "marshal command")
	}
	ack, err := js.Publish(ctx, CommandSubject(cmd.CommandType()), data,
		jetstream.WithMsgID(cmd.IdempotencyKey()),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "publish %s", cmd.CommandType())
	}
	return ack, nil
}
