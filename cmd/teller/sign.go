package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

type signedTxView struct {
	From  string `json:"from" yaml:"from"`
	Hash  string `json:"hash" yaml:"hash"`
	RawTx string `json:"rawTx" yaml:"rawTx"`
}

type signatureView struct {
	From      string `json:"from" yaml:"from"`
	Hash      string `json:"hash" yaml:"hash"`
	Signature string `json:"signature" yaml:"signature"`
}

func newSignTxCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-tx <id>",
		Short: "Build and sign a transaction offline",
		Long: `Build a transaction from flags and sign it with the identity's key. Nothing is
broadcast; the raw signed transaction is printed.

Passing --max-fee or --priority-fee builds an EIP-1559 transaction, otherwise a
legacy transaction priced by --gas-price.

Examples:
  teller sign-tx <id> --to 0x742d35Cc... --value 1ether --nonce 0 \
    --gas-price 20gwei --chain-id 1

  # Then broadcast with cast:
  cast publish 0xf86c... --rpc-url http://localhost:8545`,
		Args: cobra.ExactArgs(1),
		RunE: runSignTx(opts),
	}

	cmd.Flags().String("to", "", "recipient address (empty for contract creation)")
	cmd.Flags().String("value", "0", "value to send (e.g., 1ether, 0.5gwei)")
	cmd.Flags().String("data", "", "transaction data (hex)")
	cmd.Flags().Uint64("nonce", 0, "account nonce")
	cmd.Flags().Uint64("gas", 0, "gas limit (21000 for transfers, 200000 otherwise)")
	cmd.Flags().String("gas-price", "1gwei", "gas price for legacy tx")
	cmd.Flags().String("max-fee", "", "max fee per gas for EIP-1559 tx")
	cmd.Flags().String("priority-fee", "", "max priority fee for EIP-1559 tx")
	cmd.Flags().Uint64("chain-id", 1, "chain ID")
	return cmd
}

func runSignTx(opts *globalOptions) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		tx, chainID, err := buildTx(cmd)
		if err != nil {
			return err
		}

		return withSession(cmd, opts, func(ctx context.Context, s *session) error {
			ident, err := s.vault.LookupIdentity(ctx, args[0])
			if err != nil {
				return err
			}
			signed, err := ident.SignTx(ctx, tx, chainID)
			if err != nil {
				return err
			}
			raw, err := signed.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to encode signed transaction: %w", err)
			}
			return printOutput(cmd.OutOrStdout(), opts.output, signedTxView{
				From:  ident.ChecksumAddress(),
				Hash:  signed.Hash().Hex(),
				RawTx: hexutil.Encode(raw),
			})
		})
	}
}

func buildTx(cmd *cobra.Command) (*types.Transaction, *big.Int, error) {
	toStr, _ := cmd.Flags().GetString("to")
	valueStr, _ := cmd.Flags().GetString("value")
	dataStr, _ := cmd.Flags().GetString("data")
	nonce, _ := cmd.Flags().GetUint64("nonce")
	gas, _ := cmd.Flags().GetUint64("gas")
	gasPriceStr, _ := cmd.Flags().GetString("gas-price")
	maxFeeStr, _ := cmd.Flags().GetString("max-fee")
	priorityFeeStr, _ := cmd.Flags().GetString("priority-fee")
	chainIDNum, _ := cmd.Flags().GetUint64("chain-id")

	if chainIDNum == 0 {
		return nil, nil, fmt.Errorf("chain ID must be positive")
	}
	chainID := new(big.Int).SetUint64(chainIDNum)

	value, err := parseValue(valueStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid value: %w", err)
	}

	var to *common.Address
	if toStr != "" {
		if !common.IsHexAddress(toStr) {
			return nil, nil, fmt.Errorf("invalid recipient address %q", toStr)
		}
		addr := common.HexToAddress(toStr)
		to = &addr
	}

	var data []byte
	if dataStr != "" {
		data, err = decodeHex(dataStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid data: %w", err)
		}
	}

	if gas == 0 {
		gas = 21000 // default for simple transfer
		if len(data) > 0 || to == nil {
			gas = 200000 // contract interaction or deployment
		}
	}

	if maxFeeStr != "" || priorityFeeStr != "" {
		maxFee, err := parseValue(maxFeeStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid max fee: %w", err)
		}
		priorityFee, err := parseValue(priorityFeeStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid priority fee: %w", err)
		}
		if maxFee.Cmp(priorityFee) < 0 {
			return nil, nil, fmt.Errorf("max fee %s is below priority fee %s", maxFee, priorityFee)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: priorityFee,
			GasFeeCap: maxFee,
			Gas:       gas,
			To:        to,
			Value:     value,
			Data:      data,
		}), chainID, nil
	}

	gasPrice, err := parseValue(gasPriceStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid gas price: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    value,
		Data:     data,
	}), chainID, nil
}

func newSignHashCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sign-hash <id> <hash>",
		Short: "Sign a 32-byte hash, printing the 65-byte [R || S || V] signature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := decodeHex(args[1])
			if err != nil {
				return fmt.Errorf("invalid hash: %w", err)
			}
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				ident, err := s.vault.LookupIdentity(ctx, args[0])
				if err != nil {
					return err
				}
				sig, err := ident.SignHash(ctx, hash)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), opts.output, signatureView{
					From:      ident.ChecksumAddress(),
					Hash:      hexutil.Encode(hash),
					Signature: hexutil.Encode(sig),
				})
			})
		},
	}
}

// parseValue parses value strings like "1ether", "0.5gwei", "1000000000".
func parseValue(s string) (*big.Int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "0" {
		return big.NewInt(0), nil
	}

	multiplier := big.NewInt(1)
	switch {
	case strings.HasSuffix(s, "ether"):
		multiplier = big.NewInt(1e18)
		s = strings.TrimSuffix(s, "ether")
	case strings.HasSuffix(s, "eth"):
		multiplier = big.NewInt(1e18)
		s = strings.TrimSuffix(s, "eth")
	case strings.HasSuffix(s, "gwei"):
		multiplier = big.NewInt(1e9)
		s = strings.TrimSuffix(s, "gwei")
	case strings.HasSuffix(s, "wei"):
		s = strings.TrimSuffix(s, "wei")
	}
	s = strings.TrimSpace(s)

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	result, ok := new(big.Int).SetString(whole, 10)
	if !ok || result.Sign() < 0 {
		return nil, fmt.Errorf("invalid number: %s", s)
	}
	result.Mul(result, multiplier)

	if hasFrac && frac != "" {
		fracVal, ok := new(big.Int).SetString(frac, 10)
		if !ok || fracVal.Sign() < 0 {
			return nil, fmt.Errorf("invalid decimal part: %s", frac)
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(len(frac))), nil)
		fracVal.Mul(fracVal, multiplier)
		if new(big.Int).Mod(fracVal, scale).Sign() != 0 {
			return nil, fmt.Errorf("value %s has more precision than wei", s)
		}
		result.Add(result, fracVal.Div(fracVal, scale))
	}
	return result, nil
}
