package teller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Registerer)
	require.NotNil(t, cfg.IDGenerator)
	assert.Equal(t, DefaultDiagnosticsBuffer, cfg.DiagnosticsBuffer)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)

	a, b := cfg.IDGenerator(), cfg.IDGenerator()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestConfig_WithDefaults_KeepsValues(t *testing.T) {
	gen := func() string { return "fixed" }
	cfg := Config{IDGenerator: gen, DiagnosticsBuffer: 2, Concurrency: 1}.WithDefaults()

	assert.Equal(t, "fixed", cfg.IDGenerator())
	assert.Equal(t, 2, cfg.DiagnosticsBuffer)
	assert.Equal(t, 1, cfg.Concurrency)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "zero", cfg: Config{}},
		{name: "positive", cfg: Config{DiagnosticsBuffer: 1, Concurrency: 4}},
		{name: "negative buffer", cfg: Config{DiagnosticsBuffer: -1}, wantErr: true},
		{name: "negative concurrency", cfg: Config{Concurrency: -2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestKeyRecord_Clone(t *testing.T) {
	orig := &KeyRecord{
		ID:         "k1",
		Label:      "alice",
		PrivateKey: []byte{1, 2, 3},
		PublicKey:  []byte{4, 5, 6},
		Address:    []byte{7, 8, 9},
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
		Source:     SourceImported,
	}

	cp := orig.Clone()
	require.Equal(t, orig, cp)

	cp.PrivateKey[0] = 0xff
	cp.PublicKey[0] = 0xff
	cp.Address[0] = 0xff
	assert.Equal(t, byte(1), orig.PrivateKey[0])
	assert.Equal(t, byte(4), orig.PublicKey[0])
	assert.Equal(t, byte(7), orig.Address[0])

	var nilRecord *KeyRecord
	assert.Nil(t, nilRecord.Clone())
}
