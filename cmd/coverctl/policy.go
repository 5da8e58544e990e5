package main

import (
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy registry commands",
}

var policySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create or replace a policy record (policy manager only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		coverage, _ := cmd.Flags().GetString("coverage")
		status, _ := cmd.Flags().GetString("status")
		deductible, _ := cmd.Flags().GetUint16("deductible-bps")
		claimCount, _ := cmd.Flags().GetUint8("claim-count")
		return send(cmd, "sync_policy", map[string]any{
			"policy": map[string]any{
				"policy_id":      flagUint(cmd, "id"),
				"owner":          owner,
				"coverage_type":  coverage,
				"insured_value":  flagUint(cmd, "insured"),
				"deductible_bps": deductible,
				"status":         status,
				"claim_count":    claimCount,
			},
		})
	},
}

func init() {
	f := policySyncCmd.Flags()
	f.Uint64("id", 0, "policy id")
	f.String("owner", "", "policy holder identity (uuid)")
	f.String("coverage", "TheftOnly", "TheftOnly or TheftAndLoss")
	f.Uint64("insured", 0, "insured value")
	f.Uint16("deductible-bps", 0, "deductible in basis points")
	f.String("status", "Active", "Active, Expired, Claimed, Cancelled or Suspended")
	f.Uint8("claim-count", 0, "claims already paid against the policy")
	policySyncCmd.MarkFlagRequired("id")
	policySyncCmd.MarkFlagRequired("owner")

	policyCmd.AddCommand(policySyncCmd)
	rootCmd.AddCommand(policyCmd)
}
