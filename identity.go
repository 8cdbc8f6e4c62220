package teller

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/genecyber/ether-teller/secp256k1"
)

// Identity is a handle on a stored key pair. It carries the public half and
// the address; signing reloads the private key from the vault for the length
// of a single call.
type Identity struct {
	vault     *Vault
	id        string
	label     string
	address   []byte
	publicKey []byte
}

func newIdentity(v *Vault, r *KeyRecord) *Identity {
	return &Identity{
		vault:     v,
		id:        r.ID,
		label:     r.Label,
		address:   cloneBytes(r.Address),
		publicKey: cloneBytes(r.PublicKey),
	}
}

// ID returns the key id.
func (i *Identity) ID() string {
	return i.id
}

// Label returns the caller-supplied label.
func (i *Identity) Label() string {
	return i.label
}

// Address returns the address as 40 lowercase hex characters, no 0x prefix.
func (i *Identity) Address() string {
	return hex.EncodeToString(i.address)
}

// AddressBytes returns a copy of the 20-byte address.
func (i *Identity) AddressBytes() []byte {
	return cloneBytes(i.address)
}

// ChecksumAddress returns the EIP-55 form of the address, 0x prefixed.
func (i *Identity) ChecksumAddress() string {
	return secp256k1.ChecksumAddress(i.address)
}

// PublicKey returns a copy of the 64-byte uncompressed public key.
func (i *Identity) PublicKey() []byte {
	return cloneBytes(i.publicKey)
}

func (i *Identity) String() string {
	return fmt.Sprintf("%s (%s)", i.label, i.ChecksumAddress())
}

type identityJSON struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Address string `json:"address"`
}

// MarshalJSON encodes the public fields only.
func (i *Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityJSON{
		ID:      i.id,
		Label:   i.label,
		Address: i.Address(),
	})
}

// SignTx signs tx for chainID with the latest signer that chain supports and
// returns the signed copy.
func (i *Identity) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil {
		return nil, WrapKeyError(opSignTx, i.id, NewValidationError("tx", "cannot be nil"))
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, WrapKeyError(opSignTx, i.id, NewValidationError("chainID", "must be positive"))
	}

	var signed *types.Transaction
	err := i.vault.withPrivateKey(ctx, opSignTx, i.id, func(privateKey []byte) error {
		var err error
		signed, err = secp256k1.SignTx(tx, privateKey, chainID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// SignHash returns a 65-byte [R || S || V] signature over a 32-byte hash,
// with V in {0, 1}.
func (i *Identity) SignHash(ctx context.Context, hash []byte) ([]byte, error) {
	if len(hash) != secp256k1.HashLength {
		return nil, WrapKeyError(opSignHash, i.id,
			NewValidationError("hash", fmt.Sprintf("must be %d bytes, got %d", secp256k1.HashLength, len(hash))))
	}

	var sig []byte
	err := i.vault.withPrivateKey(ctx, opSignHash, i.id, func(privateKey []byte) error {
		var err error
		sig, err = secp256k1.SignHash(hash, privateKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// SignDigest returns a 64-byte low-S [R || S] signature over digest.
func (i *Identity) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != secp256k1.HashLength {
		return nil, WrapKeyError(opSignDigest, i.id,
			NewValidationError("digest", fmt.Sprintf("must be %d bytes, got %d", secp256k1.HashLength, len(digest))))
	}

	var sig []byte
	err := i.vault.withPrivateKey(ctx, opSignDigest, i.id, func(privateKey []byte) error {
		var err error
		sig, err = secp256k1.SignDigest(digest, privateKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// Verify reports whether sig is a valid SignDigest signature by this identity.
func (i *Identity) Verify(digest, sig []byte) (bool, error) {
	return secp256k1.VerifyDigest(i.publicKey, digest, sig)
}
