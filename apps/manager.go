package apps

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no app matches the lookup
var ErrNotFound = errors.New("app not found")

// Manager resolves apps by id (HTTP API) or key (socket handshake)
type Manager interface {
	FindByID(ctx context.Context, id string) (*App, error)
	FindByKey(ctx context.Context, key string) (*App, error)
}
