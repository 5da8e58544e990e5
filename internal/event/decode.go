package event

import (
	"CoverLedger/internal/errs"
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// New returns an empty command of type ct, ready to be decoded into.
func New(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeInitializePool:
		return &InitializePool{}, nil
	case CommandTypeDeposit:
		return &Deposit{}, nil
	case CommandTypeWithdraw:
		return &Withdraw{}, nil
	case CommandTypeRecordPremium:
		return &RecordPremium{}, nil
	case CommandTypeRecordInterestSnapshot:
		return &RecordInterestSnapshot{}, nil
	case CommandTypeUpdateSCR:
		return &UpdateSCR{}, nil
	case CommandTypeDistributeRewards:
		return &DistributeRewards{}, nil
	case CommandTypeSyncPolicy:
		return &SyncPolicy{}, nil
	case CommandTypeInitializeClaims:
		return &InitializeClaims{}, nil
	case CommandTypeSubmitClaim:
		return &SubmitClaim{}, nil
	case CommandTypeAutomatedAssessment:
		return &AutomatedAssessment{}, nil
	case CommandTypeManualAdjudicate:
		return &ManualAdjudicate{}, nil
	case CommandTypeRejectClaim:
		return &RejectClaim{}, nil
	case CommandTypeExecutePayout:
		return &ExecutePayout{}, nil
	case CommandTypeUpdatePayoutLimits:
		return &UpdatePayoutLimits{}, nil
	case CommandTypeOverridePayoutLimits:
		return &OverridePayoutLimits{}, nil
	default:
		return nil, eris.Wrapf(errs.ErrInvalidCommand, "unknown command type %d", ct)
	}
}

// Decode parses the JSON form of a command. Unknown fields are rejected so
// a misspelled amount cannot silently decode as zero.
func Decode(ct CommandType, data []byte) (Command, error) {
	cmd, err := New(ct)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, eris.Wrapf(errs.ErrInvalidCommand, "decode %s: %v", ct, err)
	}
	return cmd, nil
}

// Replay rebuilds the command recorded in an envelope.
func (e *Envelope) Replay() (Command, error) {
	return Decode(e.CommandType, e.Payload)
}
