package lti

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/mindengage-lti13/internal/jwks"
)

// ErrInvalidSegment is returned for a base64 segment that no padding can repair.
var ErrInvalidSegment = errors.New("lti: invalid base64 segment")

// DecodeSegment decodes one JWT segment, appending the padding that base64url
// encoders omit. A segment whose length mod 4 is 1 can never be valid base64.
func DecodeSegment(seg string) ([]byte, error) {
	s := strings.TrimSpace(seg)
	switch len(s) % 4 {
	case 1:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSegment, len(s))
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	enc := base64.URLEncoding
	if strings.ContainsAny(s, "+/") {
		enc = base64.StdEncoding
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSegment, err)
	}
	return b, nil
}

// Header is the subset of the JOSE header the launch flow reads.
type Header struct {
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

// Assertion is an id_token decoded without verification.
type Assertion struct {
	Raw    string
	Header Header
	Claims map[string]any
}

// DecodeAssertion splits the token and decodes header and payload independently.
func DecodeAssertion(raw string) (*Assertion, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("id_token has %d segments, want 3", len(parts))
	}
	hb, err := DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("id_token header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(hb, &h); err != nil {
		return nil, fmt.Errorf("id_token header: %w", err)
	}
	pb, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("id_token payload: %w", err)
	}
	claims := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(pb))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("id_token payload: %w", err)
	}
	return &Assertion{Raw: raw, Header: h, Claims: claims}, nil
}

// Audience returns the aud claim; for an array, its first element.
func (a *Assertion) Audience() string {
	switch v := a.Claims["aud"].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// VerifyOutcome distinguishes the ways verification can end.
type VerifyOutcome int

const (
	VerifyOK VerifyOutcome = iota
	VerifyDecodeFailure
	VerifySignatureFailure
	VerifyTimeFailure
)

func (o VerifyOutcome) String() string {
	switch o {
	case VerifyOK:
		return "ok"
	case VerifyDecodeFailure:
		return "decode_failure"
	case VerifySignatureFailure:
		return "signature_failure"
	case VerifyTimeFailure:
		return "time_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// VerifyResult is the outcome of Verify. Claims is set only for VerifyOK.
type VerifyResult struct {
	Outcome VerifyOutcome
	Claims  jwt.MapClaims
	Err     error
}

// VerifyOptions tunes Verify.
type VerifyOptions struct {
	Leeway time.Duration
	Now    func() time.Time
}

var signingMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Verify checks the signature of raw against key, then exp, nbf and iat.
func Verify(raw string, key jwks.Key, opts VerifyOptions) VerifyResult {
	popts := []jwt.ParserOption{
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuedAt(),
		jwt.WithJSONNumber(),
		jwt.WithLeeway(opts.Leeway),
		// DecodeSegment accepts padded segments, so the parser must too.
		jwt.WithPaddingAllowed(),
	}
	if opts.Now != nil {
		popts = append(popts, jwt.WithTimeFunc(opts.Now))
	}
	parser := jwt.NewParser(popts...)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if key.Alg != "" && t.Method.Alg() != key.Alg {
			return nil, fmt.Errorf("token alg %q does not match key alg %q", t.Method.Alg(), key.Alg)
		}
		return key.PublicKey, nil
	})
	switch {
	case err == nil:
		return VerifyResult{Outcome: VerifyOK, Claims: claims}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return VerifyResult{Outcome: VerifyDecodeFailure, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return VerifyResult{Outcome: VerifyTimeFailure, Err: err}
	default:
		return VerifyResult{Outcome: VerifySignatureFailure, Err: err}
	}
}
