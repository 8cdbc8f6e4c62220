package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TypeBaoKV stores values in a remote OpenBao KV version 2 secrets engine.
const TypeBaoKV Type = "openbao_kv"

// Sentinel errors - OpenBao
var (
	ErrBaoConnection  = errors.New("storage: failed to connect to OpenBao")
	ErrBaoAuth        = errors.New("storage: OpenBao authentication failed")
	ErrBaoSealed      = errors.New("storage: OpenBao is sealed")
	ErrBaoUnavailable = errors.New("storage: OpenBao is unavailable")
)

// BaoError represents an OpenBao API error.
type BaoError struct {
	StatusCode int
	Errors     []string
}

// Error implements the error interface.
func (e *BaoError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("OpenBao error (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("OpenBao error (HTTP %d): %s", e.StatusCode, e.Errors[0])
}

// Is maps HTTP status codes onto the package sentinels.
func (e *BaoError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusForbidden:
		return target == ErrBaoAuth
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusServiceUnavailable:
		return target == ErrBaoSealed
	default:
		return false
	}
}

// BaoKVOptions configures a BaoKVStore.
type BaoKVOptions struct {
	Addr          string        // e.g. https://bao.example.com:8200
	Token         string        // sent as X-Vault-Token
	Namespace     string        // optional X-Vault-Namespace
	Mount         string        // KV v2 mount path, default "secret"
	Prefix        string        // prepended to every key inside the mount
	SkipTLSVerify bool          // development only
	Timeout       time.Duration // per request, default 30s
	TLSConfig     *tls.Config   // optional custom TLS configuration
}

// BaoKVStore keeps each value as a KV v2 secret holding a single base64
// "value" field.
type BaoKVStore struct {
	httpClient *http.Client
	baseURL    string
	token      string
	namespace  string
	mount      string
	prefix     string
}

// NewBaoKVStore creates a store and checks that OpenBao is reachable and
// unsealed.
func NewBaoKVStore(ctx context.Context, opts BaoKVOptions) (*BaoKVStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("openbao address is required")
	}
	s := newBaoKVStore(opts)
	if err := s.Health(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newBaoKVStore(opts BaoKVOptions) *BaoKVStore {
	if opts.Mount == "" {
		opts.Mount = "secret"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if opts.SkipTLSVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	return &BaoKVStore{
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
		baseURL:    strings.TrimSuffix(opts.Addr, "/"),
		token:      opts.Token,
		namespace:  opts.Namespace,
		mount:      strings.Trim(opts.Mount, "/"),
		prefix:     opts.Prefix,
	}
}

type kvValue struct {
	Value string `json:"value"`
}

// Get retrieves a value by key.
func (s *BaoKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.doRequest(ctx, http.MethodGet, s.dataPath(key), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data *struct {
			Data *kvValue `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("openbao get %s: %w", key, err)
	}
	// Soft-deleted versions come back with null data.
	if result.Data == nil || result.Data.Data == nil {
		return nil, ErrNotFound
	}

	value, err := base64.StdEncoding.DecodeString(result.Data.Data.Value)
	if err != nil {
		return nil, fmt.Errorf("openbao get %s: %w", key, err)
	}
	return value, nil
}

// Put stores a value as a new secret version.
func (s *BaoKVStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	body := map[string]interface{}{
		"data": kvValue{Value: base64.StdEncoding.EncodeToString(value)},
	}
	_, err := s.doRequest(ctx, http.MethodPost, s.dataPath(key), body)
	return err
}

// Health checks OpenBao status.
func (s *BaoKVStore) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/sys/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBaoConnection, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBaoConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusServiceUnavailable:
		return ErrBaoSealed
	default:
		return ErrBaoUnavailable
	}
}

// Close releases idle connections.
func (s *BaoKVStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// Type returns the backend type.
func (s *BaoKVStore) Type() string {
	return string(TypeBaoKV)
}

func (s *BaoKVStore) dataPath(key string) string {
	return fmt.Sprintf("/v1/%s/data/%s", s.mount, url.PathEscape(s.prefix+key))
}

func (s *BaoKVStore) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaoConnection, err)
	}

	req.Header.Set("X-Vault-Token", s.token)
	req.Header.Set("Content-Type", "application/json")
	if s.namespace != "" {
		req.Header.Set("X-Vault-Namespace", s.namespace)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrBaoConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaoConnection, err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Errors []string `json:"errors"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return nil, &BaoError{StatusCode: resp.StatusCode, Errors: errResp.Errors}
	}

	return respBody, nil
}
