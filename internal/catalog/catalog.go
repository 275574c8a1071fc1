// Package catalog resolves the services a user's agent is built from.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/echolabs/echo-agent/internal/domain"
)

// Catalog is the default set of services offered to users with no services
// of their own. Entries carry no owner and are copied per user.
type Catalog struct {
	services []domain.ServiceConfig
}

type catalogFile struct {
	Services []domain.ServiceConfig `yaml:"services"`
}

// Builtin returns the fallback catalog: one mock payment service and one mock
// communication service.
func Builtin() *Catalog {
	return &Catalog{services: []domain.ServiceConfig{
		{ID: "1", Name: "Mock Payment Service", Type: domain.ServiceTypePayment},
		{ID: "2", Name: "Mock Communication Service", Type: domain.ServiceTypeCommunication},
	}}
}

// Load reads a YAML catalog from path. An empty path yields Builtin.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode services file: %w", err)
	}

	seen := make(map[string]bool, len(f.Services))
	for i := range f.Services {
		svc := &f.Services[i]
		svc.Name = strings.TrimSpace(svc.Name)
		svc.Type = strings.ToLower(strings.TrimSpace(svc.Type))
		if svc.Name == "" {
			return nil, fmt.Errorf("service %d: name is required", i)
		}
		if svc.ID == "" {
			svc.ID = fmt.Sprintf("catalog-%d", i+1)
		}
		if seen[svc.ID] {
			return nil, fmt.Errorf("service %q: duplicate id", svc.ID)
		}
		if svc.UserID != "" {
			return nil, fmt.Errorf("service %q: catalog entries cannot have an owner", svc.ID)
		}
		seen[svc.ID] = true
	}
	return &Catalog{services: f.Services}, nil
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.services) }

// For returns copies of the catalog entries owned by userID.
func (c *Catalog) For(userID string) []domain.ServiceConfig {
	out := make([]domain.ServiceConfig, len(c.services))
	for i, svc := range c.services {
		svc.UserID = userID
		svc.Keywords = append([]string(nil), svc.Keywords...)
		svc.Capabilities = append([]string(nil), svc.Capabilities...)
		out[i] = svc
	}
	return out
}
