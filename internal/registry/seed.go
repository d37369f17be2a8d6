package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// seedFile mirrors the lti.json format used to provision deployments:
//
//	{"deployments": [{"deployment_id": "...", "client_id": "...", ...}]}
type seedFile struct {
	Deployments []DeploymentConfig `json:"deployments"`
}

// LoadFile reads and validates a deployments seed file.
func LoadFile(path string) ([]DeploymentConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read seed: %w", err)
	}
	var sf seedFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("registry: parse seed %s: %w", path, err)
	}
	for i, d := range sf.Deployments {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("registry: seed entry %d: %w", i, err)
		}
	}
	return sf.Deployments, nil
}

// Seed upserts every deployment into the store.
func Seed(ctx context.Context, s Store, deployments []DeploymentConfig) error {
	for _, d := range deployments {
		if err := s.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
