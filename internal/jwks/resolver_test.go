package jwks_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti13/internal/jwks"
	"github.com/mind-engage/mindengage-lti13/internal/jwks/jwkstest"
)

func serveSet(t *testing.T, body []byte, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolveFindsKeyByKid(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	body, err := jwkstest.Marshal(
		jwkstest.ECPublicJWK(&ecKey.PublicKey, "ec-1", "ES256"),
		jwkstest.RSAPublicJWK(&rsaKey.PublicKey, "rsa-1", "RS256"),
	)
	require.NoError(t, err)
	srv, hits := serveSet(t, body, http.StatusOK)

	r := jwks.NewResolver(time.Second, nil)

	k, err := r.Resolve(context.Background(), srv.URL, "rsa-1")
	require.NoError(t, err)
	assert.Equal(t, "rsa-1", k.KID)
	assert.Equal(t, "RS256", k.Alg)
	pub, ok := k.PublicKey.(*rsa.PublicKey)
	require.True(t, ok)
	assert.True(t, pub.Equal(&rsaKey.PublicKey))

	k, err = r.Resolve(context.Background(), srv.URL, "ec-1")
	require.NoError(t, err)
	ecPub, ok := k.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, ecPub.Equal(&ecKey.PublicKey))

	// no caching: each resolve refetches the set
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolveUnknownKid(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	body, err := jwkstest.Marshal(jwkstest.RSAPublicJWK(&rsaKey.PublicKey, "rsa-1", "RS256"))
	require.NoError(t, err)
	srv, _ := serveSet(t, body, http.StatusOK)

	var observed atomic.Int32
	r := jwks.NewResolver(time.Second, nil)
	r.Observe = func(time.Duration, error) { observed.Add(1) }

	_, err = r.Resolve(context.Background(), srv.URL, "other")
	require.ErrorIs(t, err, jwks.ErrKeyNotFound)
	assert.Equal(t, int32(1), observed.Load())
}

func TestResolveFetchFailures(t *testing.T) {
	cases := map[string]struct {
		body   string
		status int
	}{
		"server error": {body: `oops`, status: http.StatusInternalServerError},
		"not json":     {body: `<html>`, status: http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := serveSet(t, []byte(tc.body), tc.status)
			_, err := jwks.NewResolver(time.Second, nil).Resolve(context.Background(), srv.URL, "k")
			require.Error(t, err)
			assert.NotErrorIs(t, err, jwks.ErrKeyNotFound)
		})
	}

	_, err := jwks.NewResolver(time.Second, nil).Resolve(context.Background(), "http://127.0.0.1:1/jwks", "k")
	require.Error(t, err)
}

func TestResolveRejectsMalformedMatchingKey(t *testing.T) {
	srv, _ := serveSet(t, []byte(`{"keys":[{"kid":"bad","kty":"RSA","n":"!!","e":"AQAB"}]}`), http.StatusOK)
	_, err := jwks.NewResolver(time.Second, nil).Resolve(context.Background(), srv.URL, "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, jwks.ErrKeyNotFound)
}
