package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the record store",
		Long: `Prepare the record store.

For SQLite this applies the embedded schema migrations. For DynamoDB it
checks that the table exists and creates it when store.dynamodb.create_table
is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			rt, err := newBaseRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if err := rt.store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate record store: %w", err)
			}

			log.Info().Str("driver", rt.cfg.Store.Driver).Msg("Record store is up to date")
			return nil
		},
	}

	return cmd
}
