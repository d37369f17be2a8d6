// Package registry holds the per-deployment trust configuration a tool needs to
// accept launches from an LMS: which client_id and issuer a deployment belongs to and
// where the platform publishes its login endpoint and signing keys.
//
// Records are provisioned out-of-band (seed file, admin API) and are read-only on
// the request path.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when no configuration exists for a deployment id.
var ErrNotFound = errors.New("registry: deployment not found")

// DeploymentConfig is the trust record for a single LTI deployment.
type DeploymentConfig struct {
	DeploymentID string `json:"deployment_id" dynamodbav:"deployment_id"`
	ClientID     string `json:"client_id" dynamodbav:"client_id"`
	Issuer       string `json:"issuer" dynamodbav:"issuer"`
	KeySetURL    string `json:"key_set_url" dynamodbav:"key_set_url"`
	AuthLoginURL string `json:"auth_login_url" dynamodbav:"auth_login_url"`
	AuthTokenURL string `json:"auth_token_url" dynamodbav:"auth_token_url"`
	IsDefault    bool   `json:"default" dynamodbav:"default"`
}

// Validate checks the fields the login and launch flows depend on.
func (d DeploymentConfig) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"deployment_id":  d.DeploymentID,
		"client_id":      d.ClientID,
		"issuer":         d.Issuer,
		"key_set_url":    d.KeySetURL,
		"auth_login_url": d.AuthLoginURL,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("registry: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Registry is the read-only lookup used on the request path.
type Registry interface {
	Lookup(ctx context.Context, deploymentID string) (DeploymentConfig, error)
}

// Store adds the provisioning operations used by seeding and the admin API.
type Store interface {
	Registry
	Upsert(ctx context.Context, d DeploymentConfig) error
	List(ctx context.Context) ([]DeploymentConfig, error)
	Delete(ctx context.Context, deploymentID string) error
}

