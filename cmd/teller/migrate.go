package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	teller "github.com/genecyber/ether-teller"
	"github.com/genecyber/ether-teller/migration"
	"github.com/genecyber/ether-teller/storage"
)

type migrateView struct {
	Migrated []migration.Result `json:"migrated" yaml:"migrated"`
	Failed   []migrateFailure   `json:"failed,omitempty" yaml:"failed,omitempty"`
}

type migrateFailure struct {
	SourceID string `json:"sourceId" yaml:"sourceId"`
	Error    string `json:"error" yaml:"error"`
}

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	var toType, toPath string
	var verify bool

	cmd := &cobra.Command{
		Use:   "migrate [id...]",
		Short: "Copy identities into another storage backend",
		Long: `Copy identities from the configured store into a destination store. With no ids
every indexed identity is copied. The destination assigns new ids; labels,
keys and addresses are preserved.

Example:
  teller migrate --store-type file --store-path ./keys \
    --to-type badger --to-path /var/lib/teller --verify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if toType == "" {
				return fmt.Errorf("--to-type is required")
			}
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				destCfg := s.cfg.Storage
				destCfg.Type = storage.Type(toType)
				destCfg.Path = toPath

				destStore, err := storage.NewStore(ctx, destCfg)
				if err != nil {
					return fmt.Errorf("open destination %s store: %w", toType, err)
				}
				defer destStore.Close()

				dest, err := teller.New(ctx, destStore, s.cfg.TellerConfig(s.logger.With(slog.String("vault", "destination")), prometheus.NewRegistry()))
				if err != nil {
					return err
				}
				defer func() {
					closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Vault.CloseTimeout)
					defer cancel()
					drainVault(closeCtx, dest, s.logger.With(slog.String("vault", "destination")))
				}()

				res, err := migration.BatchCopy(ctx, migration.Config{
					Source:            s.vault,
					Dest:              dest,
					IDs:               args,
					VerifyAfterImport: verify,
				})
				if err != nil {
					return err
				}

				view := migrateView{Migrated: res.Successful}
				for _, f := range res.Failed {
					view.Failed = append(view.Failed, migrateFailure{SourceID: f.SourceID, Error: f.Err.Error()})
				}
				if err := printOutput(cmd.OutOrStdout(), opts.output, view); err != nil {
					return err
				}
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d of %d identities failed to migrate", len(res.Failed), len(res.Failed)+len(res.Successful))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&toType, "to-type", "", "destination storage backend")
	cmd.Flags().StringVar(&toPath, "to-path", "", "destination directory for file and badger backends")
	cmd.Flags().BoolVar(&verify, "verify", false, "sign a test digest with each migrated identity")
	return cmd
}
