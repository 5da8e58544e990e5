package ledger

import (
	"CoverLedger/internal/errs"
	"CoverLedger/internal/pool"
	gomath "math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Source identifies the command a batch is generated for.
type Source struct {
	EventRef  string // idempotency key
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// JournalGenerator creates balanced journal batches from pool movements.
// A movement whose amounts are all zero produces a nil batch.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

type batchBuilder struct {
	src   Source
	batch *Batch
	err   error
}

func (jg *JournalGenerator) begin(src Source, capacity int) *batchBuilder {
	return &batchBuilder{
		src: src,
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  src.EventRef,
			Sequence:  src.Sequence,
			Timestamp: src.Timestamp,
			Journals:  make([]Journal, 0, capacity),
		},
	}
}

// move appends debit <- credit for amount; zero amounts are skipped.
func (b *batchBuilder) move(debit, credit AccountKey, amount uint64, jt JournalType) {
	if b.err != nil || amount == 0 {
		return
	}
	if amount > gomath.MaxInt64 {
		b.err = eris.Wrapf(errs.ErrOverflow, "%s amount %d exceeds ledger range", jt, amount)
		return
	}
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.batch.BatchID,
		EventRef:      b.src.EventRef,
		Sequence:      b.src.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        int64(amount),
		JournalType:   jt,
		Timestamp:     b.src.Timestamp,
	})
}

func (b *batchBuilder) done() (*Batch, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.batch.Journals) == 0 {
		return nil, nil
	}
	return b.batch, nil
}

// GenerateDeposit: external:deposits -> system:capital
func (jg *JournalGenerator) GenerateDeposit(src Source, asset pool.Asset, amount uint64) (*Batch, error) {
	id := AssetIDFor(asset)
	b := jg.begin(src, 1)
	b.move(
		NewSystemAccountKey(SubTypeSystemCapital, id),
		NewExternalAccountKey(SubTypeExternalDeposits, id),
		amount, JournalTypeDeposit,
	)
	return b.done()
}

// GenerateWithdrawal moves the gross amount out of capital and returns the
// fee, which the pool retains.
func (jg *JournalGenerator) GenerateWithdrawal(src Source, asset pool.Asset, gross, fee uint64) (*Batch, error) {
	id := AssetIDFor(asset)
	capital := NewSystemAccountKey(SubTypeSystemCapital, id)
	external := NewExternalAccountKey(SubTypeExternalWithdrawals, id)

	b := jg.begin(src, 2)
	b.move(external, capital, gross, JournalTypeWithdrawal)
	b.move(capital, external, fee, JournalTypeWithdrawalFeeRetained)
	return b.done()
}

// GeneratePremium: external:premiums -> system:premiums
func (jg *JournalGenerator) GeneratePremium(src Source, amount uint64) (*Batch, error) {
	b := jg.begin(src, 1)
	b.move(
		NewSystemAccountKey(SubTypeSystemPremiums, AssetPool),
		NewExternalAccountKey(SubTypeExternalPremiums, AssetPool),
		amount, JournalTypePremium,
	)
	return b.done()
}

// GenerateInterest: external:interest -> system:interest
func (jg *JournalGenerator) GenerateInterest(src Source, accrued uint64) (*Batch, error) {
	b := jg.begin(src, 1)
	b.move(
		NewSystemAccountKey(SubTypeSystemInterest, AssetPool),
		NewExternalAccountKey(SubTypeExternalInterest, AssetPool),
		accrued, JournalTypeInterest,
	)
	return b.done()
}

// GenerateDisbursement pays a claim out of capital and books the same
// amount against the claims-paid contra account.
func (jg *JournalGenerator) GenerateDisbursement(src Source, asset pool.Asset, amount uint64) (*Batch, error) {
	id := AssetIDFor(asset)
	b := jg.begin(src, 2)
	b.move(
		NewExternalAccountKey(SubTypeExternalPayouts, id),
		NewSystemAccountKey(SubTypeSystemCapital, id),
		amount, JournalTypeClaimPayout,
	)
	b.move(
		NewExternalAccountKey(SubTypeExternalPayouts, AssetPool),
		NewSystemAccountKey(SubTypeSystemClaimsPaid, AssetPool),
		amount, JournalTypeClaimsPaid,
	)
	return b.done()
}

// GenerateRewardAccrual: system:rewards_accrued -> provider:rewards
func (jg *JournalGenerator) GenerateRewardAccrual(src Source, owner uuid.UUID, reward uint64) (*Batch, error) {
	b := jg.begin(src, 1)
	b.move(
		NewProviderAccountKey(owner, SubTypeRewards, AssetPool),
		NewSystemAccountKey(SubTypeSystemRewardsAccrued, AssetPool),
		reward, JournalTypeRewardAccrual,
	)
	return b.done()
}
