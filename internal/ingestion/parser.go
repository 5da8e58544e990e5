package ingestion

import (
	"CoverLedger/internal/errs"
	"CoverLedger/internal/event"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// SubjectPrefix is the NATS subject namespace for inbound commands.
// The suffix is the command's wire name, e.g. cover.cmd.submit_claim.
const SubjectPrefix = "cover.cmd."

// CommandSubject returns the inbound subject for a command type.
func CommandSubject(ct event.CommandType) string {
	return SubjectPrefix + ct.String()
}

// ParseRawCommand converts a RawCommand into a typed command, taking the
// command type from the subject suffix.
func ParseRawCommand(raw RawCommand) (event.Command, error) {
	op, ok := strings.CutPrefix(raw.Subject, SubjectPrefix)
	if !ok {
		return nil, eris.Wrapf(errs.ErrInvalidCommand, "subject %q outside %s*", raw.Subject, SubjectPrefix)
	}
	return ParseCommand(op, raw.Data)
}

// ParseCommand decodes the JSON wire form of the named command and checks
// the fields every command must carry.
func ParseCommand(op string, data []byte) (event.Command, error) {
	ct, ok := event.ParseCommandType(op)
	if !ok {
		return nil, eris.Wrapf(errs.ErrInvalidCommand, "unknown command %q", op)
	}
	cmd, err := event.Decode(ct, data)
	if err != nil {
		return nil, err
	}
	if err := validateMeta(cmd); err != nil {
		return nil, eris.Wrapf(err, "%s", op)
	}
	return cmd, nil
}

func validateMeta(cmd event.Command) error {
	switch {
	case cmd.IdempotencyKey() == "":
		return eris.Wrap(errs.ErrInvalidCommand, "request_id is required")
	case len(cmd.IdempotencyKey()) > 128:
		return eris.Wrap(errs.ErrInvalidCommand, "request_id longer than 128 bytes")
	case cmd.CallerID() == uuid.Nil:
		return eris.Wrap(errs.ErrInvalidCommand, "caller is required")
	case cmd.OccurredAt().IsZero():
		return eris.Wrap(errs.ErrInvalidCommand, "timestamp is required")
	}
	return nil
}
