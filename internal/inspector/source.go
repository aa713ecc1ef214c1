package inspector

import (
	"context"

	"github.com/javi11/nzbinspect/internal/pool"
)

// Source is the article transport the inspector reads from. *nntp.Pool implements it.
type Source interface {
	Stat(ctx context.Context, messageID string) error
	FetchBody(ctx context.Context, messageID string) ([]byte, error)
}

// ManagerSource resolves the current pool of m on every call, so inspections
// follow pool rebuilds and fail with ErrPoolUnavailable while none is configured.
func ManagerSource(m pool.Manager) Source {
	return managerSource{m: m}
}

type managerSource struct {
	m pool.Manager
}

func (s managerSource) Stat(ctx context.Context, messageID string) error {
	p, err := s.m.GetPool()
	if err != nil {
		return err
	}
	return p.Stat(ctx, messageID)
}

func (s managerSource) FetchBody(ctx context.Context, messageID string) ([]byte, error) {
	p, err := s.m.GetPool()
	if err != nil {
		return nil, err
	}
	return p.FetchBody(ctx, messageID)
}
