package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/vpcforge/pkg/engine"
)

func newQueryCommand() *cobra.Command {
	var (
		includeIncomplete bool
		cursor            string
	)

	cmd := &cobra.Command{
		Use:   "query [name]",
		Short: "Show recorded networks",
		Long: `Show the record for one network, or all recorded networks.

Only fully provisioned networks are listed unless --include-incomplete is
given. Large listings stop at engine.max_records; pass the printed cursor
to --cursor to continue.`,
		Example: `  # Show one network
  vpcforge query payments

  # List everything, including pending and orphaned records
  vpcforge query --include-incomplete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			q := engine.QueryRequest{
				IncludeIncomplete: includeIncomplete,
				Cursor:            cursor,
			}
			if len(args) == 1 {
				q.Name = &args[0]
			}

			res, err := rt.engine.Query(ctx, q)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, res)
			}
			if !res.Found {
				fmt.Fprintln(w, "No items found")
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tNETWORK\tADDRESS BLOCK\tREGION\tSTATUS\tSUBDIVISIONS")
			for _, rec := range res.Records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.Name, rec.NetworkID, rec.AddressBlock, rec.Region, rec.Status,
					strings.Join(rec.Subdivisions, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if res.Truncated {
				fmt.Fprintf(w, "\nListing truncated; continue with --cursor %s\n", res.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeIncomplete, "include-incomplete", false, "also show pending and orphaned records")
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume a truncated listing")

	return cmd
}
