// Package secp256k1 provides the key derivation and signing primitives used by
// the vault: private key generation, public key and address derivation, and
// transaction and digest signing for Ethereum-style accounts.
package secp256k1

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"runtime"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Key sizes.
const (
	PrivateKeyLength = 32
	PublicKeyLength  = 64
	AddressLength    = 20
	HashLength       = 32
	SignatureLength  = 65
	DigestSigLength  = 64
)

var (
	// ErrInvalidPrivateKey is returned when raw bytes are not a valid secp256k1 scalar.
	ErrInvalidPrivateKey = errors.New("secp256k1: invalid private key")
	// ErrInvalidPublicKey is returned when raw bytes are not a point on the curve.
	ErrInvalidPublicKey = errors.New("secp256k1: invalid public key")
	// ErrInvalidHash is returned for digests that are not 32 bytes.
	ErrInvalidHash = errors.New("secp256k1: hash must be 32 bytes")
)

// GenerateKey draws a fresh private key from crypto/rand and returns its raw
// 32-byte form.
func GenerateKey() ([]byte, error) {
	privKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return crypto.FromECDSA(privKey), nil
}

// ParsePrivateKey converts raw 32-byte key material to an ECDSA private key.
func ParsePrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	if len(data) != PrivateKeyLength {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPrivateKey, PrivateKeyLength, len(data))
	}
	privKey, err := crypto.ToECDSA(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return privKey, nil
}

// PrivateToPublic derives the 64-byte uncompressed public key (X || Y, without
// the 0x04 prefix) from a raw private key.
func PrivateToPublic(privateKey []byte) ([]byte, error) {
	privKey, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return crypto.FromECDSAPub(&privKey.PublicKey)[1:], nil
}

// PublicToAddress derives the 20-byte account address from a 64-byte public key.
// Formula: Keccak256(X || Y)[12:32]
func PublicToAddress(publicKey []byte) ([]byte, error) {
	if len(publicKey) != PublicKeyLength {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, PublicKeyLength, len(publicKey))
	}
	if _, err := btcec.ParsePubKey(append([]byte{0x04}, publicKey...)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return hashKeccak256(publicKey)[12:], nil
}

// SignTx signs a transaction with EIP-155 (or later) replay protection for the
// given chain. The private key copy is wiped before returning.
func SignTx(tx *types.Transaction, privateKey []byte, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is nil")
	}
	if chainID == nil {
		return nil, fmt.Errorf("chain ID is nil")
	}

	privKey, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	defer zeroECDSA(privKey)

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signedTx, nil
}

// SignHash signs a 32-byte hash and returns the 65-byte [R || S || V]
// signature, V being the recovery id (0 or 1).
func SignHash(hash, privateKey []byte) ([]byte, error) {
	if len(hash) != HashLength {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidHash, len(hash))
	}
	privKey, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	defer zeroECDSA(privKey)

	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	return sig, nil
}

// RecoverAddress returns the address that produced a 65-byte signature over hash.
// V may be 0/1 or 27/28.
func RecoverAddress(hash, sig []byte) ([]byte, error) {
	if len(hash) != HashLength {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidHash, len(hash))
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Bytes(), nil
}

// SignDigest signs a 32-byte digest using ECDSA with low-S normalization (BIP-62).
// Returns the signature in R || S format (64 bytes).
func SignDigest(digest, privateKey []byte) ([]byte, error) {
	if len(digest) != HashLength {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidHash, len(digest))
	}
	if len(privateKey) != PrivateKeyLength {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPrivateKey, PrivateKeyLength, len(privateKey))
	}

	privKey, _ := btcec.PrivKeyFromBytes(privateKey)
	defer privKey.Zero()
	if privKey.Key.IsZero() {
		return nil, ErrInvalidPrivateKey
	}

	sig := btcecdsa.Sign(privKey, digest)
	return formatCompactSignature(sig), nil
}

// VerifyDigest checks an R || S signature against a digest and a 64-byte public key.
func VerifyDigest(publicKey, digest, sigBytes []byte) (bool, error) {
	if len(digest) != HashLength {
		return false, fmt.Errorf("%w, got %d", ErrInvalidHash, len(digest))
	}
	if len(publicKey) != PublicKeyLength {
		return false, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, PublicKeyLength, len(publicKey))
	}

	pubKey, err := btcec.ParsePubKey(append([]byte{0x04}, publicKey...))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	sig, err := parseCompactSignature(sigBytes)
	if err != nil {
		return false, err
	}
	return sig.Verify(digest, pubKey), nil
}

// ChecksumAddress formats a 20-byte address as an EIP-55 checksummed hex string.
func ChecksumAddress(addr []byte) string {
	if len(addr) != AddressLength {
		return ""
	}

	hexAddr := hex.EncodeToString(addr)
	hash := hashKeccak256([]byte(hexAddr))

	// uppercase a letter when the matching hash nibble is >= 8
	result := make([]byte, 40)
	for i := 0; i < 40; i++ {
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}

		if nibble >= 8 && hexAddr[i] >= 'a' && hexAddr[i] <= 'f' {
			result[i] = hexAddr[i] - 32
		} else {
			result[i] = hexAddr[i]
		}
	}

	return "0x" + string(result)
}

// Keccak256 computes the legacy Keccak-256 hash used by Ethereum.
func Keccak256(data ...[]byte) []byte {
	return hashKeccak256(data...)
}

func hashKeccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// formatCompactSignature converts a DER signature to R || S with low-S.
func formatCompactSignature(sig *btcecdsa.Signature) []byte {
	r, s := extractRSFromDER(sig.Serialize())

	if s.IsOverHalfOrder() {
		s.Negate()
	}

	result := make([]byte, DigestSigLength)
	r.PutBytesUnchecked(result[:32])
	s.PutBytesUnchecked(result[32:])
	return result
}

// extractRSFromDER extracts R and S from 0x30 [len] 0x02 [r_len] [r] 0x02 [s_len] [s].
func extractRSFromDER(der []byte) (*btcec.ModNScalar, *btcec.ModNScalar) {
	offset := 3
	rLen := int(der[offset])
	offset++
	rBytes := der[offset : offset+rLen]
	offset += rLen

	offset++
	sLen := int(der[offset])
	offset++
	sBytes := der[offset : offset+sLen]

	// DER prepends 0x00 to integers with the high bit set
	if len(rBytes) == 33 && rBytes[0] == 0 {
		rBytes = rBytes[1:]
	}
	if len(sBytes) == 33 && sBytes[0] == 0 {
		sBytes = sBytes[1:]
	}

	rPadded := make([]byte, 32)
	sPadded := make([]byte, 32)
	copy(rPadded[32-len(rBytes):], rBytes)
	copy(sPadded[32-len(sBytes):], sBytes)

	r := new(btcec.ModNScalar)
	s := new(btcec.ModNScalar)
	r.SetByteSlice(rPadded)
	s.SetByteSlice(sPadded)
	return r, s
}

func parseCompactSignature(sigBytes []byte) (*btcecdsa.Signature, error) {
	if len(sigBytes) != DigestSigLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", DigestSigLength, len(sigBytes))
	}

	r := new(btcec.ModNScalar)
	s := new(btcec.ModNScalar)
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
		return nil, fmt.Errorf("r value overflows")
	}
	if overflow := s.SetByteSlice(sigBytes[32:]); overflow {
		return nil, fmt.Errorf("s value overflows")
	}
	if r.IsZero() || s.IsZero() {
		return nil, fmt.Errorf("invalid signature: R or S is zero")
	}

	return btcecdsa.NewSignature(r, s), nil
}

// SecureZero wipes sensitive data from memory.
func SecureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

func zeroECDSA(privKey *ecdsa.PrivateKey) {
	if privKey == nil || privKey.D == nil {
		return
	}
	privKey.D.SetInt64(0)
}
