package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolabs/echo-agent/internal/domain"
)

type listerFunc func(ctx context.Context, userID string) ([]domain.ServiceConfig, error)

func (f listerFunc) ListUserServices(ctx context.Context, userID string) ([]domain.ServiceConfig, error) {
	return f(ctx, userID)
}

func fixed(services ...domain.ServiceConfig) Lister {
	return listerFunc(func(context.Context, string) ([]domain.ServiceConfig, error) {
		return append([]domain.ServiceConfig(nil), services...), nil
	})
}

func failing(err error) Lister {
	return listerFunc(func(context.Context, string) ([]domain.ServiceConfig, error) {
		return nil, err
	})
}

func TestLoadEmptyPathIsBuiltin(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	services := c.For("u1")
	assert.Equal(t, domain.ServiceTypePayment, services[0].Type)
	assert.Equal(t, domain.ServiceTypeCommunication, services[1].Type)
	for _, svc := range services {
		assert.Equal(t, "u1", svc.UserID)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  - id: stripe
    name: Stripe
    type: Payment
    keywords: [pay, invoice]
  - name: Webhook
    type: generic
    keywords: [deploy]
    endpoint: https://hooks.example.com/deploy
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	services := c.For("u9")
	require.Len(t, services, 2)
	assert.Equal(t, "payment", services[0].Type)
	assert.Equal(t, []string{"pay", "invoice"}, services[0].Keywords)
	assert.Equal(t, "catalog-2", services[1].ID)
	assert.Equal(t, "https://hooks.example.com/deploy", services[1].Endpoint)
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	for name, doc := range map[string]string{
		"missing name": "services:\n  - type: payment\n",
		"duplicate id": "services:\n  - {id: a, name: A}\n  - {id: a, name: B}\n",
		"owned entry":  "services:\n  - {id: a, name: A, user_id: u1}\n",
		"bad yaml":     "services: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestForReturnsIndependentCopies(t *testing.T) {
	c, err := Parse([]byte("services:\n  - {id: a, name: A, keywords: [x]}\n"))
	require.NoError(t, err)

	first := c.For("u1")
	first[0].Keywords[0] = "mutated"
	assert.Equal(t, []string{"x"}, c.For("u2")[0].Keywords)
}

func TestSourcePrefersLocalThenRegistry(t *testing.T) {
	local := fixed(domain.ServiceConfig{ID: "l", Name: "Local"})
	remote := fixed(domain.ServiceConfig{ID: "r", Name: "Remote"})

	got, err := NewSource(local, remote, nil, nil).Services(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Local", got[0].Name)
	assert.Equal(t, "u1", got[0].UserID)

	got, err = NewSource(fixed(), remote, nil, nil).Services(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Remote", got[0].Name)
}

func TestSourceFallsBackToCatalogOnErrors(t *testing.T) {
	src := NewSource(failing(errors.New("disk gone")), failing(errors.New("registry down")), Builtin(), nil)

	got, err := src.Services(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Mock Payment Service", got[0].Name)
}

func TestSourceKeepsForeignOwner(t *testing.T) {
	src := NewSource(fixed(domain.ServiceConfig{ID: "x", UserID: "u2", Name: "Theirs"}), nil, nil, nil)

	got, err := src.Services(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, got[0].AuthorizedFor("u1"))
}

func TestSourceRequiresUser(t *testing.T) {
	_, err := NewSource(nil, nil, nil, nil).Services(context.Background(), "")
	assert.Error(t, err)
}
