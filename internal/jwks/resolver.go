// Package jwks resolves platform signing keys from a remote JSON Web Key Set.
//
// Every call fetches the whole key set and scans it for the requested kid; no
// keys are cached between calls, so a platform rotating its keys is picked up on
// the next launch.
package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// ErrKeyNotFound is returned when the fetched set has no key with the requested kid.
var ErrKeyNotFound = errors.New("jwks: key not found")

// maxSetBytes bounds the key set document we are willing to read.
const maxSetBytes = 1 << 20

// Key is a resolved public signing key.
type Key struct {
	KID       string
	Alg       string // may be empty; the token header then decides
	Use       string
	PublicKey crypto.PublicKey
	Raw       json.RawMessage
}

// Set is the wire form of a key set: { "keys": [ JWK, ... ] }.
type Set struct {
	Keys []json.RawMessage `json:"keys"`
}

// Resolver fetches key sets over HTTP.
type Resolver struct {
	HTTP   *http.Client
	Logger *slog.Logger

	// Observe, when set, receives the duration and outcome of every fetch.
	Observe func(d time.Duration, err error)
}

// NewResolver returns a Resolver with a bounded HTTP client.
func NewResolver(timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		HTTP:   &http.Client{Timeout: timeout},
		Logger: logger,
	}
}

// Resolve GETs keySetURL and returns the first key whose kid matches.
// Transport and parse failures are returned as plain errors; a missing kid is
// ErrKeyNotFound.
func (r *Resolver) Resolve(ctx context.Context, keySetURL, kid string) (Key, error) {
	start := time.Now()
	set, err := r.fetch(ctx, keySetURL)
	if r.Observe != nil {
		r.Observe(time.Since(start), err)
	}
	if err != nil {
		return Key{}, err
	}

	for _, raw := range set.Keys {
		var head struct {
			Kid string `json:"kid"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		if head.Kid != kid {
			continue
		}
		return parseKey(raw)
	}
	r.Logger.Debug("jwks: kid not in key set", "url", keySetURL, "kid", kid, "keys", len(set.Keys))
	return Key{}, ErrKeyNotFound
}

func (r *Resolver) fetch(ctx context.Context, keySetURL string) (Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keySetURL, nil)
	if err != nil {
		return Set{}, fmt.Errorf("jwks: build request: %w", err)
	}
	req.Header.Set("Accept", "application/jwk-set+json, application/json")

	hc := r.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Set{}, fmt.Errorf("jwks: fetch %s: %w", keySetURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return Set{}, fmt.Errorf("jwks: fetch %s: platform returned %s", keySetURL, resp.Status)
	}

	var set Set
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSetBytes)).Decode(&set); err != nil {
		return Set{}, fmt.Errorf("jwks: decode %s: %w", keySetURL, err)
	}
	return set, nil
}

func parseKey(raw json.RawMessage) (Key, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return Key{}, fmt.Errorf("jwks: parse key: %w", err)
	}
	if !jwk.Valid() {
		return Key{}, fmt.Errorf("jwks: key %q is not valid", jwk.KeyID)
	}
	if !jwk.IsPublic() {
		return Key{}, fmt.Errorf("jwks: key %q is not a public key", jwk.KeyID)
	}
	return Key{
		KID:       jwk.KeyID,
		Alg:       jwk.Algorithm,
		Use:       jwk.Use,
		PublicKey: jwk.Key,
		Raw:       raw,
	}, nil
}
