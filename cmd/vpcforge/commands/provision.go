package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/vpcforge/pkg/config"
	"github.com/openfroyo/vpcforge/pkg/engine"
)

func newProvisionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision <request-file>",
		Short: "Provision a network from a request file",
		Long: `Provision a network and its subdivisions from a request file.

The request may be written in CUE, JSON or YAML:

  name:              "payments"
  address_block:     "10.20.0.0/16"
  region:            "us-east-1"
  subdivision_count: 2
  subdivision_names: ["payments-a", "payments-b"]

Provisioning is idempotent per name: running the same request again reports
that the network already exists.`,
		Example: `  # Provision from a CUE file
  vpcforge provision payments.cue

  # Print the full result as JSON
  vpcforge provision --json payments.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			req, err := loadRequest(rt.cfg, args[0])
			if err != nil {
				return err
			}

			res := rt.engine.Provision(ctx, req)
			if err := printResult(cmd, res); err != nil {
				return err
			}
			if !res.Outcome.Success() {
				return fmt.Errorf("provisioning %s: %s", res.Outcome, res.Message)
			}
			return nil
		},
	}

	return cmd
}

func loadRequest(cfg *config.Config, path string) (*engine.ProvisionRequest, error) {
	var opts []config.RequestOption
	if cfg.AWS.Region != "" {
		opts = append(opts, config.WithDefaultRegion(cfg.AWS.Region))
	}

	loader, err := config.NewRequestLoader(opts...)
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes res to the command's output. Warnings go to its error
// stream in text mode.
func printResult(cmd *cobra.Command, res *engine.Result) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, res)
	}

	fmt.Fprintf(w, "Outcome: %s\n", res.Outcome)
	if res.Message != "" {
		fmt.Fprintf(w, "Message: %s\n", res.Message)
	}
	if rec := res.Record; rec != nil {
		fmt.Fprintf(w, "Network: %s (%s, %s)\n", rec.NetworkID, rec.AddressBlock, rec.Region)
		for i, id := range rec.Subdivisions {
			fmt.Fprintf(w, "  %d: %s\n", i+1, id)
		}
	}
	for _, v := range res.Violations {
		fmt.Fprintf(w, "Violation [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
	}
	if len(res.Orphans) > 0 {
		fmt.Fprintf(w, "Orphaned resources: %s\n", strings.Join(res.Orphans, ", "))
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
	return nil
}
