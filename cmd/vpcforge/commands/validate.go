package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/vpcforge/pkg/addressing"
	"github.com/openfroyo/vpcforge/pkg/config"
	"github.com/openfroyo/vpcforge/pkg/telemetry"
)

// validateReport is the --json output of validate.
type validateReport struct {
	Name       string   `json:"name"`
	Blocks     []string `json:"blocks"`
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var listPolicies bool

	cmd := &cobra.Command{
		Use:   "validate [request-file]",
		Short: "Check a request file without provisioning",
		Long: `Check a request file without touching the provider or the record store.

This command checks:
  - Schema conformance of the CUE, JSON or YAML request
  - Address allocation for every subdivision
  - Admission policies (built-in and policy.paths)`,
		Example: `  # Validate a request and show the planned address blocks
  vpcforge validate payments.cue

  # Show the admission policies this configuration evaluates
  vpcforge validate --list-policies`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if listPolicies {
				return runListPolicies(cmd, cfg)
			}
			if len(args) != 1 {
				return fmt.Errorf("a request file is required")
			}

			req, err := loadRequest(cfg, args[0])
			if err != nil {
				return err
			}

			alloc, err := addressing.New(cfg.Addressing)
			if err != nil {
				return err
			}
			blocks, err := alloc.Allocate(req.AddressBlock, req.SubdivisionCount)
			if err != nil {
				return fmt.Errorf("invalid address block: %w", err)
			}

			tel := &telemetry.Telemetry{Logger: telemetry.NewNopLogger()}
			pol, err := newPolicyEngine(ctx, cfg, tel)
			if err != nil {
				return err
			}
			result, err := pol.EvaluateRequest(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to evaluate policies: %w", err)
			}

			report := validateReport{
				Name:     req.Name,
				Blocks:   blocks,
				Allowed:  result.Allowed,
				Warnings: result.Warnings,
			}
			for _, v := range result.Violations {
				report.Violations = append(report.Violations, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(w, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(w, "Request %s\n", report.Name)
				for i, block := range blocks {
					fmt.Fprintf(w, "  subdivision %d: %s %s\n", i+1, block, req.SubdivisionName(i))
				}
				for _, v := range report.Violations {
					fmt.Fprintf(w, "violation: %s\n", v)
				}
				for _, warning := range report.Warnings {
					fmt.Fprintf(w, "warning: %s\n", warning)
				}
			}

			if !report.Allowed {
				return fmt.Errorf("request %s is rejected by policy", req.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&listPolicies, "list-policies", false, "List admission policies and whether they are enabled")

	return cmd
}

// policyListing is one entry of `validate --list-policies --json`.
type policyListing struct {
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

func runListPolicies(cmd *cobra.Command, cfg *config.Config) error {
	tel := &telemetry.Telemetry{Logger: telemetry.NewNopLogger()}
	pol, err := newPolicyEngine(cmd.Context(), cfg, tel)
	if err != nil {
		return err
	}

	policies := pol.ListPolicies()
	listing := make([]policyListing, 0, len(policies))
	for _, p := range policies {
		listing = append(listing, policyListing{
			Name:        p.Name,
			Severity:    string(p.Severity),
			Enabled:     p.Enabled,
			Description: p.Description,
		})
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, listing)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED")
	for _, p := range listing {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", p.Name, p.Severity, p.Enabled)
	}
	return tw.Flush()
}
