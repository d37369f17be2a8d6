package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLStore keeps deployments in the lti_deployments table (sqlite or postgres).
type SQLStore struct{ DB *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{DB: db} }

const deploymentCols = `deployment_id, client_id, issuer, key_set_url, auth_login_url, auth_token_url, is_default`

func (s *SQLStore) Lookup(ctx context.Context, deploymentID string) (DeploymentConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+deploymentCols+` FROM lti_deployments WHERE deployment_id=$1`, deploymentID)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeploymentConfig{}, ErrNotFound
	}
	if err != nil {
		return DeploymentConfig{}, fmt.Errorf("registry: lookup %q: %w", deploymentID, err)
	}
	return d, nil
}

func (s *SQLStore) Upsert(ctx context.Context, d DeploymentConfig) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO lti_deployments (`+deploymentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (deployment_id)
		DO UPDATE SET
			client_id=EXCLUDED.client_id,
			issuer=EXCLUDED.issuer,
			key_set_url=EXCLUDED.key_set_url,
			auth_login_url=EXCLUDED.auth_login_url,
			auth_token_url=EXCLUDED.auth_token_url,
			is_default=EXCLUDED.is_default`,
		d.DeploymentID, d.ClientID, d.Issuer, d.KeySetURL, d.AuthLoginURL, d.AuthTokenURL, d.IsDefault)
	if err != nil {
		return fmt.Errorf("registry: upsert %q: %w", d.DeploymentID, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]DeploymentConfig, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+deploymentCols+` FROM lti_deployments ORDER BY deployment_id`)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()
	var out []DeploymentConfig
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, deploymentID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM lti_deployments WHERE deployment_id=$1`, deploymentID)
	if err != nil {
		return fmt.Errorf("registry: delete %q: %w", deploymentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(s scanner) (DeploymentConfig, error) {
	var d DeploymentConfig
	err := s.Scan(&d.DeploymentID, &d.ClientID, &d.Issuer, &d.KeySetURL, &d.AuthLoginURL, &d.AuthTokenURL, &d.IsDefault)
	return d, err
}
