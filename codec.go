package teller

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/genecyber/ether-teller/secp256k1"
)

// binaryEncoding is applied to every raw byte field of a stored record.
var binaryEncoding = base64.StdEncoding

// recordDocument is the persisted record format.
type recordDocument struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	PrivateKey string    `json:"privateKey"`
	PublicKey  string    `json:"publicKey"`
	Address    string    `json:"address"`
	CreatedAt  time.Time `json:"createdAt"`
	Source     string    `json:"source,omitempty"`
}

// encodeRecord serializes a record for storage.
func encodeRecord(r *KeyRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: record cannot be nil", ErrValidation)
	}
	doc := recordDocument{
		ID:         r.ID,
		Label:      r.Label,
		PrivateKey: binaryEncoding.EncodeToString(r.PrivateKey),
		PublicKey:  binaryEncoding.EncodeToString(r.PublicKey),
		Address:    binaryEncoding.EncodeToString(r.Address),
		CreatedAt:  r.CreatedAt.UTC(),
		Source:     r.Source,
	}
	return json.Marshal(doc)
}

// decodeRecord parses a stored record and checks the byte field sizes.
func decodeRecord(data []byte) (*KeyRecord, error) {
	var doc recordDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrDecode)
	}

	privateKey, err := decodeField("privateKey", doc.PrivateKey, secp256k1.PrivateKeyLength)
	if err != nil {
		return nil, err
	}
	publicKey, err := decodeField("publicKey", doc.PublicKey, secp256k1.PublicKeyLength)
	if err != nil {
		return nil, err
	}
	address, err := decodeField("address", doc.Address, secp256k1.AddressLength)
	if err != nil {
		return nil, err
	}

	return &KeyRecord{
		ID:         doc.ID,
		Label:      doc.Label,
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Address:    address,
		CreatedAt:  doc.CreatedAt,
		Source:     doc.Source,
	}, nil
}

func decodeField(name, value string, size int) ([]byte, error) {
	b, err := binaryEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", ErrDecode, name, size, len(b))
	}
	return b, nil
}

// encodeIndex serializes the key index as a JSON array of ids.
func encodeIndex(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// decodeIndex parses a stored key index. JSON null yields an empty index.
func decodeIndex(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: key index: %v", ErrDecode, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
