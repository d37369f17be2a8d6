package lti

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-lti13/internal/config"
	"github.com/mind-engage/mindengage-lti13/internal/jwks"
	"github.com/mind-engage/mindengage-lti13/internal/launchstate"
	"github.com/mind-engage/mindengage-lti13/internal/metrics"
	"github.com/mind-engage/mindengage-lti13/internal/registry"
)

const maxLaunchBody = 1 << 20

// KeyResolver finds the platform key that signed a token.
type KeyResolver interface {
	Resolve(ctx context.Context, keySetURL, kid string) (jwks.Key, error)
}

// LaunchRequest is the form_post sent back by the platform.
type LaunchRequest struct {
	IDToken  string
	State    string
	SourceIP string
}

// Validator runs phase 2 of the launch.
type Validator struct {
	Registry registry.Registry
	Cache    launchstate.Cache
	Keys     KeyResolver

	Leeway       time.Duration
	EnforceNonce bool
	Now          func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Validate consumes the launch state and returns the verified id_token claims.
// The state is taken before anything else is checked, so it is spent whatever
// the outcome.
func (v *Validator) Validate(ctx context.Context, req LaunchRequest) (map[string]any, error) {
	st, err := v.Cache.Take(ctx, req.State)
	switch {
	case errors.Is(err, launchstate.ErrNotFound):
		return nil, newError(KindInvalidState, msgInvalidState, err)
	case err != nil:
		return nil, newError(KindUnhandled, "", fmt.Errorf("take launch state: %w", err))
	}

	if st.SourceIP != req.SourceIP {
		return nil, newError(KindSourceIPMismatch, msgWrongIP,
			fmt.Errorf("state bound to %s, launch from %s", st.SourceIP, req.SourceIP))
	}

	dep, err := v.Registry.Lookup(ctx, st.DeploymentID)
	if err != nil {
		return nil, newError(KindUnhandled, "", fmt.Errorf("deployment %q: %w", st.DeploymentID, err))
	}

	asn, err := DecodeAssertion(req.IDToken)
	if err != nil {
		return nil, newError(KindUnhandled, "", err)
	}

	if aud := asn.Audience(); aud == "" || aud != dep.ClientID {
		return nil, newError(KindAudienceMismatch, msgInvalidClientID,
			fmt.Errorf("aud %q, want %q", aud, dep.ClientID))
	}

	if asn.Header.Kid == "" {
		return nil, newError(KindUnknownSigningKey, msgInvalidClientID, errors.New("id_token has no kid"))
	}
	key, err := v.Keys.Resolve(ctx, dep.KeySetURL, asn.Header.Kid)
	switch {
	case errors.Is(err, jwks.ErrKeyNotFound):
		return nil, newError(KindUnknownSigningKey, msgInvalidClientID, err)
	case err != nil:
		return nil, newError(KindUnhandled, "", err)
	}

	res := Verify(asn.Raw, key, VerifyOptions{Leeway: v.Leeway, Now: v.Now})
	switch res.Outcome {
	case VerifyOK:
	case VerifyDecodeFailure:
		return nil, newError(KindUnhandled, "", res.Err)
	default:
		return nil, newError(KindSignatureOrTime, "", res.Err)
	}

	if v.EnforceNonce {
		if n, _ := res.Claims["nonce"].(string); n == "" || n != st.Nonce {
			return nil, newError(KindNonceMismatch, msgInvalidNonce, nil)
		}
	}
	return map[string]any(res.Claims), nil
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

// LaunchHandler serves POST /launch.
func LaunchHandler(v *Validator, body64 config.Body64) http.HandlerFunc {
	return guard(func(r *http.Request) Response {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxLaunchBody))
		if err != nil {
			v.Metrics.Launch(KindUnhandled.String())
			return ResponseFor(newError(KindUnhandled, "", err))
		}
		req := parseLaunchBody(string(raw), body64)
		req.SourceIP = SourceIP(r)

		claims, err := v.Validate(r.Context(), req)
		if err != nil {
			v.Metrics.Launch(KindOf(err).String())
			v.logger().WarnContext(r.Context(), "lti launch rejected",
				"state", req.State, "ip", req.SourceIP, "kind", KindOf(err).String(), "err", err)
			return ResponseFor(err)
		}
		v.Metrics.Launch("ok")
		v.logger().InfoContext(r.Context(), "lti launch accepted",
			"state", req.State, "iss", claims["iss"], "sub", claims["sub"])
		return JSON(http.StatusOK, claims)
	})
}

// parseLaunchBody extracts id_token and state. Unparseable bodies yield empty
// fields, which then fail at the state lookup.
func parseLaunchBody(body string, mode config.Body64) LaunchRequest {
	switch mode {
	case config.Body64Never:
		return formFields(body)
	case config.Body64Always:
		return formFields(unbase64(body))
	default:
		req := formFields(body)
		if req.IDToken == "" && req.State == "" {
			return formFields(unbase64(body))
		}
		return req
	}
}

func formFields(body string) LaunchRequest {
	// ParseQuery keeps the pairs it could decode alongside the error.
	vals, _ := url.ParseQuery(strings.TrimSpace(body))
	return LaunchRequest{IDToken: vals.Get("id_token"), State: vals.Get("state")}
}

func unbase64(body string) string {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	if err != nil {
		return ""
	}
	return string(b)
}
