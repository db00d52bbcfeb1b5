package rbac

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/singleflight"
)

// ErrNoActor indicates the request did not identify an actor.
var ErrNoActor = errors.New("rbac: actor not identified")

// PermissionSource lists the permissions granted to an actor.
type PermissionSource interface {
	PermissionsFor(ctx context.Context, actorID string) ([]string, error)
}

// Service resolves effective permissions. Concurrent lookups for the same actor share
// one query.
type Service struct {
	source PermissionSource
	group  singleflight.Group
}

// NewService constructs a Service backed by source.
func NewService(source PermissionSource) *Service {
	return &Service{source: source}
}

// EffectivePermissions returns the lower-cased permissions granted to actorID.
func (s *Service) EffectivePermissions(ctx context.Context, actorID string) ([]string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, ErrNoActor
	}
	v, err, _ := s.group.Do(actorID, func() (any, error) {
		perms, err := s.source.PermissionsFor(ctx, actorID)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(perms))
		for _, p := range perms {
			out = append(out, strings.ToLower(strings.TrimSpace(p)))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}
