package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti13/internal/db"
	"github.com/mind-engage/mindengage-lti13/internal/registry"
)

func sample(id string) registry.DeploymentConfig {
	return registry.DeploymentConfig{
		DeploymentID: id,
		ClientID:     "c1",
		Issuer:       "https://lms.example",
		KeySetURL:    "https://lms.example/jwks",
		AuthLoginURL: "https://lms.example/auth",
		AuthTokenURL: "https://lms.example/token",
		IsDefault:    true,
	}
}

func stores(t *testing.T) map[string]registry.Store {
	t.Helper()
	h, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return map[string]registry.Store{
		"memory": registry.NewMemory(),
		"sql":    registry.NewSQLStore(h),
		"dynamo": registry.NewDynamoStore(newFakeDynamo(), "ltiConfigTable"),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Lookup(ctx, "d1")
			require.ErrorIs(t, err, registry.ErrNotFound)

			require.NoError(t, s.Upsert(ctx, sample("d1")))
			require.NoError(t, s.Upsert(ctx, sample("d0")))

			got, err := s.Lookup(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, sample("d1"), got)

			updated := sample("d1")
			updated.ClientID = "c2"
			updated.IsDefault = false
			require.NoError(t, s.Upsert(ctx, updated))
			got, err = s.Lookup(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, updated, got)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "d0", all[0].DeploymentID)
			assert.Equal(t, "d1", all[1].DeploymentID)

			require.NoError(t, s.Delete(ctx, "d1"))
			require.ErrorIs(t, s.Delete(ctx, "d1"), registry.ErrNotFound)
			_, err = s.Lookup(ctx, "d1")
			require.ErrorIs(t, err, registry.ErrNotFound)
		})
	}
}

func TestUpsertRejectsIncompleteRecords(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			d := sample("d1")
			d.KeySetURL = ""
			d.Issuer = " "
			err := s.Upsert(ctx, d)
			require.EqualError(t, err, "registry: missing issuer, key_set_url")
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lti.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "deployments": [
    {
      "deployment_id": "d1",
      "client_id": "c1",
      "issuer": "https://lms.example",
      "auth_login_url": "https://lms.example/auth",
      "auth_token_url": "https://lms.example/token",
      "key_set_url": "https://lms.example/jwks",
      "default": true
    }
  ]
}`), 0o600))

	deps, err := registry.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []registry.DeploymentConfig{sample("d1")}, deps)

	m := registry.NewMemory()
	require.NoError(t, registry.Seed(context.Background(), m, deps))
	got, err := m.Lookup(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)
}

func TestLoadFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lti.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"deployments":[{"deployment_id":"d1"}]}`), 0o600))

	_, err := registry.LoadFile(path)
	require.ErrorContains(t, err, "seed entry 0")

	_, err = registry.LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
