package ingestion_test

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	applied []event.Command
	receipt core.Receipt
	err     error
}

func (f *fakeApplier) Apply(cmd event.Command) (core.Receipt, error) {
	f.applied = append(f.applied, cmd)
	return f.receipt, f.err
}

// settlement records which of ack/nak/term a message received.
type settlement struct{ ack, nak, term int }

func tracked(subject, data string) (ingestion.RawCommand, *settlement) {
	s := &settlement{}
	return ingestion.RawCommand{
		Subject:  subject,
		Data:     []byte(data),
		AckFunc:  func() { s.ack++ },
		NakFunc:  func() { s.nak++ },
		TermFunc: func() { s.term++ },
	}, s
}

const premiumJSON = `{"request_id":"p-1","caller":"` + callerID + `","timestamp":"2026-02-01T10:00:00Z","amount":10}`

// ============================================================================
// Test: Processor settlement
// ============================================================================

func TestProcessor_Settlement(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		err     error
		applied int
		want    settlement
	}{
		{"applied", "cover.cmd.record_premium", nil, 1, settlement{ack: 1}},
		{"malformed", "cover.cmd.nope", nil, 0, settlement{term: 1}},
		{"domain rejection", "cover.cmd.record_premium", eris.Wrap(errs.ErrUnauthorized, "caller"), 1, settlement{ack: 1}},
		{"unclassified failure", "cover.cmd.record_premium", errors.New("disk on fire"), 1, settlement{nak: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &fakeApplier{err: tt.err}
			p := ingestion.NewProcessor(app, nil, nil, zerolog.Nop())

			raw, s := tracked(tt.subject, premiumJSON)
			p.Handle(raw)

			assert.Len(t, app.applied, tt.applied)
			assert.Equal(t, tt.want, *s)
		})
	}
}

func TestProcessor_RunDrainsChannel(t *testing.T) {
	app := &fakeApplier{receipt: core.Receipt{Duplicate: true}}
	ch := make(chan ingestion.RawCommand, 2)
	p := ingestion.NewProcessor(app, ch, nil, zerolog.Nop())

	raw1, s1 := tracked("cover.cmd.record_premium", premiumJSON)
	raw2, s2 := tracked("cover.cmd.record_premium", premiumJSON)
	ch <- raw1
	ch <- raw2
	close(ch)

	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, app.applied, 2)
	assert.Equal(t, 1, s1.ack)
	assert.Equal(t, 1, s2.ack, "duplicates are acknowledged")
}

// ============================================================================
// Test: Publishers
// ============================================================================

type published struct {
	subject string
	data    []byte
	opts    int
}

type fakeStream struct {
	msgs []published
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: "TEST", Sequence: uint64(len(f.msgs))}, nil
}

func TestAuditPublisher_PublishesEnvelopes(t *testing.T) {
	stream := &fakeStream{}
	ch := make(chan core.Output, 2)
	ch <- core.Output{Envelope: &event.Envelope{Sequence: 0, CommandType: event.CommandTypeInitializePool, Payload: json.RawMessage(`{}`)}}
	ch <- core.Output{Envelope: &event.Envelope{Sequence: 1, CommandType: event.CommandTypeExecutePayout, Payload: json.RawMessage(`{}`)}}
	close(ch)

	ap := ingestion.NewAuditPublisher(stream, ch, nil, zerolog.Nop())
	require.NoError(t, ap.Run(context.Background()))

	require.Len(t, stream.msgs, 2)
	assert.Equal(t, "cover.audit.initialize_pool", stream.msgs[0].subject)
	assert.Equal(t, "cover.audit.execute_payout", stream.msgs[1].subject)
	assert.Equal(t, 1, stream.msgs[1].opts, "message id option")

	var env event.Envelope
	require.NoError(t, json.Unmarshal(stream.msgs[1].data, &env))
	assert.EqualValues(t, 1, env.Sequence)
	assert.Equal(t, event.CommandTypeExecutePayout, env.CommandType)
}

func TestAuditPublisher_FailureIsNotFatal(t *testing.T) {
	stream := &fakeStream{err: errors.New("no responders")}
	ch := make(chan core.Output, 1)
	ch <- core.Output{Envelope: &event.Envelope{CommandType: event.CommandTypeDeposit, Payload: json.RawMessage(`{}`)}}
	close(ch)

	ap := ingestion.NewAuditPublisher(stream, ch, nil, zerolog.Nop())
	assert.NoError(t, ap.Run(context.Background()))
}

func TestPublishCommand(t *testing.T) {
	stream := &fakeStream{}
	cmd := &event.RecordPremium{
		Meta:   event.Meta{RequestID: "p-9", Caller: uuid.MustParse(callerID), Time: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
		Amount: 77,
	}

	ack, err := ingestion.PublishCommand(context.Background(), stream, cmd)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ack.Sequence)
	require.Len(t, stream.msgs, 1)
	assert.Equal(t, "cover.cmd.record_premium", stream.msgs[0].subject)

	// What goes out must parse back into the same command.
	parsed, err := ingestion.ParseRawCommand(ingestion.RawCommand{Subject: stream.msgs[0].subject, Data: stream.msgs[0].data})
	require.NoError(t, err)
	assert.Equal(t, cmd, parsed)

	_, err = ingestion.PublishCommand(context.Background(), stream, &event.RecordPremium{})
	assert.ErrorIs(t, err, errs.ErrInvalidCommand)
}
