package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/echolabs/echo-agent/internal/domain"
)

// Lister returns the services a user is authorized for.
type Lister interface {
	ListUserServices(ctx context.Context, userID string) ([]domain.ServiceConfig, error)
}

// Source resolves a user's services from local storage, then the remote
// registry, then the default catalog. Either lister may be nil.
type Source struct {
	local    Lister
	registry Lister
	catalog  *Catalog
	logger   *slog.Logger
}

// NewSource builds a resolution chain.
func NewSource(local, registry Lister, catalog *Catalog, logger *slog.Logger) *Source {
	if catalog == nil {
		catalog = Builtin()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{local: local, registry: registry, catalog: catalog, logger: logger}
}

// Services returns the first non-empty result of the chain. Lookup failures
// fall through to the next link.
func (s *Source) Services(ctx context.Context, userID string) ([]domain.ServiceConfig, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	for _, link := range []struct {
		name   string
		lister Lister
	}{
		{"store", s.local},
		{"registry", s.registry},
	} {
		if link.lister == nil {
			continue
		}
		services, err := link.lister.ListUserServices(ctx, userID)
		if err != nil {
			s.logger.Warn("Service lookup failed, trying next source",
				"source", link.name,
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if len(services) == 0 {
			continue
		}
		for i := range services {
			// Foreign owners are left in place for the agent to reject.
			if services[i].UserID == "" {
				services[i].UserID = userID
			}
		}
		s.logger.Debug("Resolved user services", "source", link.name, "user_id", userID, "count", len(services))
		return services, nil
	}

	s.logger.Info("Using default service catalog", "user_id", userID, "count", s.catalog.Len())
	return s.catalog.For(userID), nil
}
