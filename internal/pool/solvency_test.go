package pool_test

import (
	"CoverLedger/internal/pool"
	gomath "math"
	"testing"
)

func TestWithdrawalFeeBps_Tiers(t *testing.T) {
	tests := []struct {
		ratio uint16
		want  uint16
	}{
		{0, 10000},
		{5000, 10000},
		{5001, 5000},
		{7000, 5000},
		{7001, 2000},
		{9000, 2000},
		{9001, 500},
		{10000, 500},
		{11000, 500},
		{11001, 100},
		{13000, 100},
		{13001, 0},
		{gomath.MaxUint16, 0},
	}
	for _, tt := range tests {
		if got := pool.WithdrawalFeeBps(tt.ratio); got != tt.want {
			t.Errorf("WithdrawalFeeBps(%d): got %d, want %d", tt.ratio, got, tt.want)
		}
	}
}

func TestWithdrawalFeeBps_Monotone(t *testing.T) {
	prev := pool.WithdrawalFeeBps(0)
	for r := 1; r <= gomath.MaxUint16; r++ {
		fee := pool.WithdrawalFeeBps(uint16(r))
		if fee > prev {
			t.Fatalf("fee rose from %d to %d at ratio %d", prev, fee, r)
		}
		prev = fee
	}
}

func TestCoverageRatio(t *testing.T) {
	tests := []struct {
		name  string
		state pool.State
		want  uint16
	}{
		{"no requirement", pool.State{CapitalA: 1}, 10000},
		{"exact cover", pool.State{CapitalA: 600, CapitalB: 400, StatutoryCapitalRequired: 1000}, 10000},
		{"premiums and interest count", pool.State{CapitalA: 500, PremiumsCollected: 200, InterestEarned: 50, StatutoryCapitalRequired: 1000}, 7500},
		{"claims saturate at zero", pool.State{CapitalA: 10, ClaimsPaid: 50, StatutoryCapitalRequired: 100}, 0},
		{"capped", pool.State{CapitalA: 1_000_000, StatutoryCapitalRequired: 1}, gomath.MaxUint16},
		{"huge capital", pool.State{CapitalA: gomath.MaxUint64, CapitalB: gomath.MaxUint64, StatutoryCapitalRequired: 3}, gomath.MaxUint16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pool.CoverageRatio(tt.state); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseAsset(t *testing.T) {
	for _, name := range []string{"USDC", "SOL"} {
		a, err := pool.ParseAsset(name)
		if err != nil {
			t.Fatalf("ParseAsset(%q): %v", name, err)
		}
		if a.String() != name {
			t.Errorf("got %q, want %q", a.String(), name)
		}
	}
	if _, err := pool.ParseAsset("DOGE"); err == nil {
		t.Error("DOGE should not parse")
	}
}
