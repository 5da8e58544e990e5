package ingestion_test

import (
	"CoverLedger/internal/claims"
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/pool"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

const (
	callerID = "660e8400-e29b-41d4-a716-446655440001"
	digest   = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
)

func rawFromJSON(t *testing.T, subject string, v any) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:    subject,
		Data:       data,
		ReceivedAt: time.Now(),
	}
}

func TestParseSubmitClaim(t *testing.T) {
	payload := map[string]any{
		"request_id":      "claim-req-1",
		"caller":          callerID,
		"timestamp":       "2026-02-01T10:00:00Z",
		"policy_id":       7,
		"claim_type":      "Loss",
		"evidence_digest": digest,
		"claimed_amount":  2500,
	}

	cmd, err := ingestion.ParseRawCommand(rawFromJSON(t, "cover.cmd.submit_claim", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sc, ok := cmd.(*event.SubmitClaim)
	if !ok {
		t.Fatalf("expected *event.SubmitClaim, got %T", cmd)
	}
	if sc.PolicyID != 7 {
		t.Errorf("policy_id: got %d, want 7", sc.PolicyID)
	}
	if sc.ClaimType != claims.TypeLoss {
		t.Errorf("claim_type: got %s, want Loss", sc.ClaimType)
	}
	if sc.ClaimedAmount != 2500 {
		t.Errorf("claimed_amount: got %d, want 2500", sc.ClaimedAmount)
	}
	if sc.EvidenceDigest.String() != digest {
		t.Errorf("evidence_digest: got %s", sc.EvidenceDigest)
	}
	if sc.IdempotencyKey() != "claim-req-1" {
		t.Errorf("request_id: got %s", sc.IdempotencyKey())
	}
	want := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if !sc.OccurredAt().Equal(want) {
		t.Errorf("timestamp: got %v, want %v", sc.OccurredAt(), want)
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]any{
		"request_id": "dep-1",
		"caller":     callerID,
		"timestamp":  "2026-02-01T10:00:00Z",
		"amount":     1_000_000,
		"asset":      "SOL",
	}

	cmd, err := ingestion.ParseCommand("deposit", mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	d := cmd.(*event.Deposit)
	if d.Asset != pool.AssetB {
		t.Errorf("asset: got %s, want SOL", d.Asset)
	}
	if d.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", d.Amount)
	}
	if d.CommandType() != event.CommandTypeDeposit {
		t.Errorf("command type: got %v, want deposit", d.CommandType())
	}
}

func TestParseAllCommandTypes(t *testing.T) {
	base := map[string]any{
		"request_id": "r",
		"caller":     callerID,
		"timestamp":  "2026-02-01T10:00:00Z",
	}
	for _, ct := range event.AllCommandTypes() {
		cmd, err := ingestion.ParseRawCommand(rawFromJSON(t, ingestion.CommandSubject(ct), base))
		if err != nil {
			t.Errorf("%s: %v", ct, err)
			continue
		}
		if cmd.CommandType() != ct {
			t.Errorf("%s: decoded as %s", ct, cmd.CommandType())
		}
	}
}

func TestParseErrors(t *testing.T) {
	valid := `"request_id":"r","caller":"` + callerID + `","timestamp":"2026-02-01T10:00:00Z"`

	tests := []struct {
		name    string
		subject string
		data    string
	}{
		{"foreign subject", "perp.trades.x", `{` + valid + `}`},
		{"unknown command", "cover.cmd.liquidate", `{` + valid + `}`},
		{"not json", "cover.cmd.deposit", `{`},
		{"unknown field", "cover.cmd.deposit", `{` + valid + `,"amout":5}`},
		{"bad asset", "cover.cmd.deposit", `{` + valid + `,"asset":"BTC"}`},
		{"negative amount", "cover.cmd.deposit", `{` + valid + `,"amount":-5}`},
		{"bad digest", "cover.cmd.submit_claim", `{` + valid + `,"evidence_digest":"abc"}`},
		{"missing request id", "cover.cmd.deposit", `{"caller":"` + callerID + `","timestamp":"2026-02-01T10:00:00Z"}`},
		{"missing caller", "cover.cmd.deposit", `{"request_id":"r","timestamp":"2026-02-01T10:00:00Z"}`},
		{"missing timestamp", "cover.cmd.deposit", `{"request_id":"r","caller":"` + callerID + `"}`},
		{"long request id", "cover.cmd.deposit", `{"request_id":"` + strings.Repeat("x", 129) + `","caller":"` + callerID + `","timestamp":"2026-02-01T10:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseRawCommand(ingestion.RawCommand{Subject: tt.subject, Data: []byte(tt.data)})
			if !errors.Is(err, errs.ErrInvalidCommand) {
				t.Errorf("got %v, want ErrInvalidCommand", err)
			}
		})
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
