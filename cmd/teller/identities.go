package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	teller "github.com/genecyber/ether-teller"
)

// identityView is the printable form of an identity.
type identityView struct {
	ID              string `json:"id" yaml:"id"`
	Label           string `json:"label" yaml:"label"`
	Address         string `json:"address" yaml:"address"`
	ChecksumAddress string `json:"checksumAddress" yaml:"checksumAddress"`
}

func newIdentityView(ident *teller.Identity) identityView {
	return identityView{
		ID:              ident.ID(),
		Label:           ident.Label(),
		Address:         ident.Address(),
		ChecksumAddress: ident.ChecksumAddress(),
	}
}

// recordView is the printable form of an exported record. Byte fields are hex.
type recordView struct {
	ID         string    `json:"id" yaml:"id"`
	Label      string    `json:"label" yaml:"label"`
	Address    string    `json:"address" yaml:"address"`
	PublicKey  string    `json:"publicKey" yaml:"publicKey"`
	PrivateKey string    `json:"privateKey" yaml:"privateKey"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	Source     string    `json:"source,omitempty" yaml:"source,omitempty"`
}

func newRecordView(r *teller.KeyRecord) recordView {
	return recordView{
		ID:         r.ID,
		Label:      r.Label,
		Address:    hex.EncodeToString(r.Address),
		PublicKey:  hex.EncodeToString(r.PublicKey),
		PrivateKey: hex.EncodeToString(r.PrivateKey),
		CreatedAt:  r.CreatedAt,
		Source:     r.Source,
	}
}

func newGenerateCmd(opts *globalOptions) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				ident, err := s.vault.GenerateIdentity(ctx, label)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), opts.output, newIdentityView(ident))
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "human-readable name for the identity")
	return cmd
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var label, keyHex string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an existing private key",
		Long: `Import a raw 32-byte secp256k1 private key given as hex (0x prefix optional).

Example:
  teller import --label treasury --key 0x4c0883a6...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privateKey, err := decodeHex(keyHex)
			if err != nil {
				return fmt.Errorf("invalid key: %w", err)
			}
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				ident, err := s.vault.ImportIdentity(ctx, label, privateKey)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), opts.output, newIdentityView(ident))
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "human-readable name for the identity")
	cmd.Flags().StringVar(&keyHex, "key", "", "private key as hex")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id>",
		Short: "Print one identity including its private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				record, err := s.vault.ExportIdentity(ctx, args[0])
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), opts.output, newRecordView(record))
			})
		},
	}
}

func newExportAllCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export-all",
		Short: "Print every identity including private keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				records, err := s.vault.ExportAll(ctx)
				if err != nil {
					return err
				}
				views := make([]recordView, 0, len(records))
				for _, r := range records {
					views = append(views, newRecordView(r))
				}
				return printOutput(cmd.OutOrStdout(), opts.output, views)
			})
		},
	}
}

func newListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List identities without key material",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				idents, err := s.vault.LookupAll(ctx)
				if err != nil {
					return err
				}
				views := make([]identityView, 0, len(idents))
				for _, ident := range idents {
					views = append(views, newIdentityView(ident))
				}
				return printOutput(cmd.OutOrStdout(), opts.output, views)
			})
		},
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
