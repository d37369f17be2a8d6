package lti

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-lti13/internal/launchstate"
	"github.com/mind-engage/mindengage-lti13/internal/metrics"
	"github.com/mind-engage/mindengage-lti13/internal/registry"
)

// LoginParams are the third-party initiated login parameters sent by the platform.
type LoginParams struct {
	DeploymentID   string
	ClientID       string
	Issuer         string
	TargetLinkURI  string
	LoginHint      string
	LTIMessageHint string
}

// LoginParamsFrom reads login parameters from a parsed query or form.
// lti_deployment_id wins over deployment_id when both are sent.
func LoginParamsFrom(v url.Values) LoginParams {
	dep := v.Get("lti_deployment_id")
	if dep == "" {
		dep = v.Get("deployment_id")
	}
	return LoginParams{
		DeploymentID:   dep,
		ClientID:       v.Get("client_id"),
		Issuer:         v.Get("iss"),
		TargetLinkURI:  v.Get("target_link_uri"),
		LoginHint:      v.Get("login_hint"),
		LTIMessageHint: v.Get("lti_message_hint"),
	}
}

// Initiator runs phase 1 of the launch: it checks the login against the registry,
// stores a fresh state/nonce pair and builds the authorization redirect.
type Initiator struct {
	Registry registry.Registry
	Cache    launchstate.Cache
	StateTTL time.Duration

	// NewState and NewNonce default to random uuids.
	NewState func() string
	NewNonce func() string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func newState() string { return uuid.NewString() }

func newNonce() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// Initiate validates p and returns the platform authorization URL to redirect to.
func (in *Initiator) Initiate(ctx context.Context, p LoginParams, sourceIP string) (string, error) {
	if p.DeploymentID == "" {
		return "", newError(KindInvalidDeployment, msgInvalidDeployment, nil)
	}
	dep, err := in.Registry.Lookup(ctx, p.DeploymentID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return "", newError(KindInvalidDeployment, msgInvalidDeployment, err)
	case err != nil:
		return "", newError(KindUnhandled, "", err)
	}
	if dep.DeploymentID != p.DeploymentID || dep.ClientID != p.ClientID || dep.Issuer != p.Issuer {
		return "", newError(KindInvalidDeployment, msgInvalidDeployment, nil)
	}

	target, err := url.Parse(dep.AuthLoginURL)
	if err != nil {
		return "", newError(KindUnhandled, "", fmt.Errorf("auth_login_url for %s: %w", dep.DeploymentID, err))
	}

	mint := in.NewState
	if mint == nil {
		mint = newState
	}
	nonceFn := in.NewNonce
	if nonceFn == nil {
		nonceFn = newNonce
	}
	st := launchstate.LaunchState{
		State:          mint(),
		ClientID:       p.ClientID,
		DeploymentID:   p.DeploymentID,
		Issuer:         p.Issuer,
		Nonce:          nonceFn(),
		LTIMessageHint: p.LTIMessageHint,
		SourceIP:       sourceIP,
	}
	ttl := in.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if err := in.Cache.Put(ctx, st, ttl); err != nil {
		return "", newError(KindUnhandled, "", fmt.Errorf("store launch state: %w", err))
	}

	q := target.Query()
	q.Set("scope", "openid")
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.TargetLinkURI)
	q.Set("state", st.State)
	q.Set("nonce", st.Nonce)
	q.Set("login_hint", p.LoginHint)
	if p.LTIMessageHint != "" {
		q.Set("lti_message_hint", p.LTIMessageHint)
	}
	target.RawQuery = q.Encode()

	in.logger().InfoContext(ctx, "lti login initiated",
		"deployment_id", dep.DeploymentID, "client_id", dep.ClientID, "state", st.State, "ip", sourceIP)
	return target.String(), nil
}

func (in *Initiator) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}

// OIDCLoginHandler serves GET and POST /login.
func OIDCLoginHandler(in *Initiator) http.HandlerFunc {
	return guard(func(r *http.Request) Response {
		if err := r.ParseForm(); err != nil {
			in.Metrics.Login(KindUnhandled.String())
			return ResponseFor(newError(KindUnhandled, "", err))
		}
		p := LoginParamsFrom(r.Form)
		location, err := in.Initiate(r.Context(), p, SourceIP(r))
		if err != nil {
			in.Metrics.Login(KindOf(err).String())
			in.logger().WarnContext(r.Context(), "lti login rejected",
				"deployment_id", p.DeploymentID, "client_id", p.ClientID, "iss", p.Issuer, "err", err)
			return ResponseFor(err)
		}
		in.Metrics.Login("redirect")
		return Redirect(location)
	})
}
