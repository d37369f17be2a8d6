// Package jwkstest builds public JSON Web Keys and key sets from Go keys, for
// tests that stand up a fake platform key set endpoint. Only public parameters
// are emitted, with "use":"sig"; callers choose a stable kid and alg.
package jwkstest

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
)

// RSAPublicJWK builds an RSA JWK map (n,e) for the given key.
func RSAPublicJWK(pub *rsa.PublicKey, kid, alg string) map[string]any {
	if pub == nil || pub.N == nil || pub.E == 0 {
		return nil
	}
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"alg": alg,
		"use": "sig",
		"n":   b64url(pub.N.Bytes()),
		"e":   b64url(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// ECPublicJWK builds an EC JWK map (crv,x,y). P-256 => ES256, P-384 => ES384,
// P-521 => ES512.
func ECPublicJWK(pub *ecdsa.PublicKey, kid, alg string) map[string]any {
	if pub == nil || pub.X == nil || pub.Y == nil || pub.Curve == nil {
		return nil
	}
	crv := pub.Curve.Params().Name
	switch crv {
	case "P-256", "P-384", "P-521":
	default:
		return nil
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	return map[string]any{
		"kty": "EC",
		"kid": kid,
		"alg": alg,
		"use": "sig",
		"crv": crv,
		"x":   b64url(pub.X.FillBytes(make([]byte, size))),
		"y":   b64url(pub.Y.FillBytes(make([]byte, size))),
	}
}

// Marshal encodes JWK maps as a key set document.
func Marshal(keys ...map[string]any) ([]byte, error) {
	set := struct {
		Keys []map[string]any `json:"keys"`
	}{Keys: make([]map[string]any, 0, len(keys))}
	for _, k := range keys {
		if k != nil {
			set.Keys = append(set.Keys, k)
		}
	}
	return json.Marshal(set)
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
