package main

import (
	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Capital pool commands",
}

var poolInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the pool (caller becomes the authority)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		manager, _ := cmd.Flags().GetString("policy-manager")
		fee, _ := cmd.Flags().GetUint16("lp-fee-bps")
		return send(cmd, "initialize_pool", map[string]any{"policy_manager": manager, "lp_fee_bps": fee})
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Deposit capital and mint LP shares for the caller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		amount, _ := cmd.Flags().GetUint64("amount")
		asset, _ := cmd.Flags().GetString("asset")
		return send(cmd, "deposit", map[string]any{"amount": amount, "asset": asset})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Burn LP shares and withdraw their value, less the solvency fee",
	RunE: func(cmd *cobra.Command, _ []string) error {
		shares, _ := cmd.Flags().GetUint64("shares")
		asset, _ := cmd.Flags().GetString("asset")
		return send(cmd, "withdraw", map[string]any{"shares": shares, "asset": asset})
	},
}

var premiumCmd = &cobra.Command{
	Use:   "premium",
	Short: "Record collected premium (policy manager only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		amount, _ := cmd.Flags().GetUint64("amount")
		return send(cmd, "record_premium", map[string]any{"amount": amount})
	},
}

var interestCmd = &cobra.Command{
	Use:   "interest",
	Short: "Record an interest snapshot for an epoch (authority only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		epoch, _ := cmd.Flags().GetUint64("epoch")
		rate, _ := cmd.Flags().GetUint16("rate-bps")
		accrued, _ := cmd.Flags().GetUint64("accrued")
		return send(cmd, "record_interest_snapshot", map[string]any{"epoch": epoch, "rate_bps": rate, "accrued": accrued})
	},
}

var scrCmd = &cobra.Command{
	Use:   "scr",
	Short: "Set the statutory capital requirement (authority only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		value, _ := cmd.Flags().GetUint64("value")
		return send(cmd, "update_scr", map[string]any{"value": value})
	},
}

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Accrue an LP's pro-rata share of net profit (authority only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		return send(cmd, "distribute_rewards", map[string]any{"owner": owner})
	},
}

func init() {
	poolInitCmd.Flags().String("policy-manager", "", "policy manager identity (uuid)")
	poolInitCmd.Flags().Uint16("lp-fee-bps", 0, "LP fee in basis points, at most 2000")
	poolInitCmd.MarkFlagRequired("policy-manager")

	for _, c := range []*cobra.Command{depositCmd, withdrawCmd} {
		c.Flags().String("asset", "USDC", "capital asset: USDC or SOL")
	}
	depositCmd.Flags().Uint64("amount", 0, "amount in base units")
	withdrawCmd.Flags().Uint64("shares", 0, "LP shares to burn")

	premiumCmd.Flags().Uint64("amount", 0, "premium in base units")

	interestCmd.Flags().Uint64("epoch", 0, "interest epoch")
	interestCmd.Flags().Uint16("rate-bps", 0, "annual rate in basis points")
	interestCmd.Flags().Uint64("accrued", 0, "interest accrued this epoch")
	interestCmd.MarkFlagRequired("epoch")

	scrCmd.Flags().Uint64("value", 0, "required capital")
	rewardsCmd.Flags().String("owner", "", "LP identity (uuid)")
	rewardsCmd.MarkFlagRequired("owner")

	poolCmd.AddCommand(poolInitCmd, depositCmd, withdrawCmd, premiumCmd, interestCmd, scrCmd, rewardsCmd)
	rootCmd.AddCommand(poolCmd)
}
