package main

import (
	"github.com/spf13/cobra"
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Claims ledger commands",
}

var claimsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the claims ledger (caller becomes the authority)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		assessor, _ := cmd.Flags().GetString("assessor")
		return send(cmd, "initialize_claims", map[string]any{
			"assessor":        assessor,
			"max_auto_payout": flagUint(cmd, "max-auto-payout"),
			"daily_limit":     flagUint(cmd, "daily-limit"),
		})
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "File a claim against a policy (policy owner only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		claimType, _ := cmd.Flags().GetString("type")
		evidence, _ := cmd.Flags().GetString("evidence")
		return send(cmd, "submit_claim", map[string]any{
			"policy_id":       flagUint(cmd, "policy"),
			"claim_type":      claimType,
			"evidence_digest": evidence,
			"claimed_amount":  flagUint(cmd, "amount"),
		})
	},
}

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Record the automated assessment of a submitted claim",
	RunE: func(cmd *cobra.Command, _ []string) error {
		decision, _ := cmd.Flags().GetString("decision")
		confidence, _ := cmd.Flags().GetUint8("confidence")
		return send(cmd, "automated_assessment", map[string]any{
			"claim_id":   flagUint(cmd, "claim"),
			"decision":   decision,
			"confidence": confidence,
		})
	},
}

var adjudicateCmd = &cobra.Command{
	Use:   "adjudicate",
	Short: "Approve or reject a claim manually (authority only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		return send(cmd, "manual_adjudicate", map[string]any{"claim_id": flagUint(cmd, "claim"), "approve": approve})
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a claim with a reason (authority only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return send(cmd, "reject_claim", map[string]any{"claim_id": flagUint(cmd, "claim"), "reason": reason})
	},
}

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Execute the payout of an approved claim",
	RunE: func(cmd *cobra.Command, _ []string) error {
		asset, _ := cmd.Flags().GetString("asset")
		return send(cmd, "execute_payout", map[string]any{"claim_id": flagUint(cmd, "claim"), "asset": asset})
	},
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Update the automated payout limits (authority only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return send(cmd, "update_payout_limits", map[string]any{
			"max_auto_payout": flagUint(cmd, "max-auto-payout"),
			"daily_limit":     flagUint(cmd, "daily-limit"),
		})
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Let an approved claim through the payout limits (authority only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return send(cmd, "override_payout_limits", map[string]any{"claim_id": flagUint(cmd, "claim")})
	},
}

func flagUint(cmd *cobra.Command, name string) uint64 {
	v, _ := cmd.Flags().GetUint64(name)
	return v
}

func init() {
	for _, c := range []*cobra.Command{claimsInitCmd, limitsCmd} {
		c.Flags().Uint64("max-auto-payout", 0, "largest single automated payout")
		c.Flags().Uint64("daily-limit", 0, "automated payouts allowed per UTC day")
	}
	claimsInitCmd.Flags().String("assessor", "", "automated assessor identity (uuid)")
	claimsInitCmd.MarkFlagRequired("assessor")

	submitCmd.Flags().Uint64("policy", 0, "policy id")
	submitCmd.Flags().String("type", "Theft", "claim type: Theft or Loss")
	submitCmd.Flags().String("evidence", "", "hex SHA-256 digest of the evidence bundle")
	submitCmd.Flags().Uint64("amount", 0, "claimed amount before deductible")
	submitCmd.MarkFlagRequired("policy")

	for _, c := range []*cobra.Command{assessCmd, adjudicateCmd, rejectCmd, payCmd, overrideCmd} {
		c.Flags().Uint64("claim", 0, "claim id")
		c.MarkFlagRequired("claim")
	}
	assessCmd.Flags().String("decision", "Approved", "Approved, Rejected or ManualReview")
	assessCmd.Flags().Uint8("confidence", 0, "confidence score 0-100")
	adjudicateCmd.Flags().Bool("approve", false, "approve instead of reject")
	rejectCmd.Flags().String("reason", "", "rejection reason")
	payCmd.Flags().String("asset", "USDC", "payout asset: USDC or SOL")

	claimsCmd.AddCommand(claimsInitCmd, submitCmd, assessCmd, adjudicateCmd, rejectCmd, payCmd, limitsCmd, overrideCmd)
	rootCmd.AddCommand(claimsCmd)
}
