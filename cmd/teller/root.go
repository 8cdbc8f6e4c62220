package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	teller "github.com/genecyber/ether-teller"
	"github.com/genecyber/ether-teller/internal/config"
	"github.com/genecyber/ether-teller/storage"
)

type globalOptions struct {
	configFile string
	storeType  string
	storePath  string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "teller",
		Short: "Manage secp256k1 identities in a local key vault",
		Long: `teller generates, imports and exports Ethereum-style identities and signs
with them without printing private keys unless asked to export.

Configuration is read from teller.yaml (or --config) and TELLER_* environment
variables, e.g. TELLER_STORAGE_TYPE=badger TELLER_STORAGE_PATH=/var/lib/teller.

Examples:
  teller generate --label alice
  teller list --output yaml
  teller sign-tx <id> --to 0x3535... --value 1ether --nonce 0 --gas-price 20gwei --chain-id 1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output format %q (use json or yaml)", opts.output)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: ./teller.yaml)")
	flags.StringVar(&opts.storeType, "store-type", "", "storage backend: memory, file, redis, badger, openbao_kv")
	flags.StringVar(&opts.storePath, "store-path", "", "storage directory for file and badger backends")
	flags.StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")

	cmd.AddCommand(
		newGenerateCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
		newExportAllCmd(opts),
		newListCmd(opts),
		newSignTxCmd(opts),
		newSignHashCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

// session is one opened vault plus what is needed to shut it down.
type session struct {
	vault  *teller.Vault
	store  storage.Store
	logger *slog.Logger
	cfg    *config.Config
}

func openSession(cmd *cobra.Command, opts *globalOptions) (*session, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.storeType != "" {
		cfg.Storage.Type = storage.Type(opts.storeType)
	}
	if opts.storePath != "" {
		cfg.Storage.Path = opts.storePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	store, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Type, err)
	}

	vault, err := teller.New(ctx, store, cfg.TellerConfig(logger, prometheus.NewRegistry()))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Debug("vault opened", slog.String("store", store.Type()))
	return &session{vault: vault, store: store, logger: logger, cfg: cfg}, nil
}

// close waits for background index writes, logs any diagnostics and closes
// the store.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Vault.CloseTimeout)
	defer cancel()

	drainVault(ctx, s.vault, s.logger)
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}

// drainVault closes v and logs every diagnostic it reported.
func drainVault(ctx context.Context, v *teller.Vault, logger *slog.Logger) {
	if err := v.Close(ctx); err != nil {
		logger.Warn("vault close timed out", slog.String("error", err.Error()))
		return
	}
	for diag := range v.Diagnostics() {
		logger.Warn("background failure", slog.String("error", diag.Error()))
	}
}

// withSession opens a vault for the duration of fn.
func withSession(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(cmd.Context(), s)
}

func printOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
