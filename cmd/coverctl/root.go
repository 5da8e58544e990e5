package main

import (
	"CoverLedger/internal/config"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	natsURL   string
	caller    string
	requestID string
	at        string
	timeout   time.Duration
)

// publishFn sends a parsed command; swapped out in tests.
var publishFn = publishNATS

var rootCmd = &cobra.Command{
	Use:          "coverctl",
	Short:        "Operator CLI for CoverLedger",
	Long:         "Publishes pool, claims and policy commands to the CoverLedger command stream and tails the audit stream.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("nats-url") {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		natsURL = cfg.NATS.URL
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&natsURL, "nats-url", "", "NATS server URL (default from COVER_NATS_URL / config)")
	pf.StringVar(&caller, "caller", os.Getenv("COVER_CALLER"), "caller identity (uuid)")
	pf.StringVar(&requestID, "request-id", "", "idempotency key (default: random uuid)")
	pf.StringVar(&at, "at", "", "command timestamp, RFC3339 (default: now)")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "publish timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// buildCommand merges the metadata flags into fields and parses the result
// exactly as the service would.
func buildCommand(op string, fields map[string]any) (event.Command, error) {
	id, err := uuid.Parse(caller)
	if err != nil {
		return nil, eris.Wrap(err, "--caller must be a uuid")
	}
	ts := time.Now().UTC()
	if at != "" {
		if ts, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, eris.Wrap(err, "--at")
		}
	}
	key := requestID
	if key == "" {
		key = uuid.NewString()
	}

	body := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		body[k] = v
	}
	body["request_id"] = key
	body["caller"] = id.String()
	body["timestamp"] = ts.Format(time.RFC3339Nano)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "encode command")
	}
	return ingestion.ParseCommand(op, data)
}

// send builds op and publishes it.
func send(cmd *cobra.Command, op string, fields map[string]any) error {
	c, err := buildCommand(op, fields)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return publishFn(ctx, cmd, c)
}

func publishNATS(ctx context.Context, cmd *cobra.Command, c event.Command) error {
	nc, js, err := ingestion.ConnectNATS(natsURL, "coverctl", zerolog.Nop())
	if err != nil {
		return err
	}
	defer nc.Close()

	ack, err := ingestion.PublishCommand(ctx, js, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s request_id=%s stream_seq=%d duplicate=%t\n",
		c.CommandType(), c.IdempotencyKey(), ack.Sequence, ack.Duplicate)
	return nil
}
