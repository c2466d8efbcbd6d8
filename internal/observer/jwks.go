package observer

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	jwksFetchTimeout = 10 * time.Second
	// Unknown key ids trigger a refetch at most this often.
	jwksRefreshInterval = time.Minute
)

var errUnknownKey = errors.New("no signing key for kid")

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet caches RSA signing keys published at a JWKS endpoint.
type keySet struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func newKeySet(url string, client *http.Client) *keySet {
	if client == nil {
		client = &http.Client{Timeout: jwksFetchTimeout}
	}
	return &keySet{url: url, client: client, keys: map[string]*rsa.PublicKey{}}
}

// key returns the key for kid, refetching the set when kid is unknown.
// An empty kid matches the only key of a single-key set.
func (k *keySet) key(kid string) (*rsa.PublicKey, error) {
	if k == nil {
		return nil, errUnknownKey
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if key := k.lookup(kid); key != nil {
		return key, nil
	}
	if !k.fetched.IsZero() && time.Since(k.fetched) < jwksRefreshInterval {
		return nil, fmt.Errorf("%w %q", errUnknownKey, kid)
	}
	keys, err := k.fetch()
	k.fetched = time.Now()
	if err != nil {
		return nil, err
	}
	k.keys = keys
	if key := k.lookup(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownKey, kid)
}

func (k *keySet) lookup(kid string) *rsa.PublicKey {
	if kid == "" && len(k.keys) == 1 {
		for _, key := range k.keys {
			return key
		}
	}
	return k.keys[kid]
}

func (k *keySet) fetch() (map[string]*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(context.Background(), jwksFetchTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks request: %w", err)
	}
	response, err := k.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch: status %d", response.StatusCode)
	}

	var document struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return nil, fmt.Errorf("jwks decode: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, jwk := range document.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		key, err := jwk.rsaPublicKey()
		if err != nil {
			return nil, fmt.Errorf("jwks key %q: %w", jwk.Kid, err)
		}
		keys[jwk.Kid] = key
	}
	return keys, nil
}

func (j jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := new(big.Int).SetBytes(exponent)
	if len(modulus) == 0 || !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("malformed RSA key")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(e.Int64())}, nil
}
