package main

import (
	"CoverLedger/internal/ingestion"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail [operation]",
	Short: "Stream audit envelopes as they are committed",
	Long:  "Prints each audit envelope as one JSON line. An optional operation name narrows the stream to that command type.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		subject := ingestion.AuditSubjectPrefix + ">"
		if len(args) == 1 {
			subject = ingestion.AuditSubjectPrefix + args[0]
		}
		policy := jetstream.DeliverNewPolicy
		if all {
			policy = jetstream.DeliverAllPolicy
		}

		nc, js, err := ingestion.ConnectNATS(natsURL, "coverctl-tail", zerolog.Nop())
		if err != nil {
			return err
		}
		defer nc.Close()

		ctx := cmd.Context()
		consumer, err := js.OrderedConsumer(ctx, ingestion.AuditStream, jetstream.OrderedConsumerConfig{
			FilterSubjects: []string{subject},
			DeliverPolicy:  policy,
		})
		if err != nil {
			return eris.Wrap(err, "create ordered consumer")
		}
		iter, err := consumer.Messages()
		if err != nil {
			return eris.Wrap(err, "open message iterator")
		}
		go func() {
			<-ctx.Done()
			iter.Stop()
		}()

		out := cmd.OutOrStdout()
		for {
			msg, err := iter.Next()
			if err != nil {
				if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					return nil
				}
				return eris.Wrap(err, "next audit message")
			}
			fmt.Fprintln(out, string(msg.Data()))
		}
	},
}

func init() {
	tailCmd.Flags().Bool("all", false, "replay the whole audit stream before following")
	rootCmd.AddCommand(tailCmd)
}
