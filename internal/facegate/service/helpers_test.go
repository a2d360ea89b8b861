package service_test

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/facegate/internal/facegate/service"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store/memory"
)

const dim = service.DefaultEmbeddingDim

// vec returns a dim-length embedding that is zero except for the first
// component, so distances between two vecs are |a-b|.
func vec(first float64) []float64 {
	v := make([]float64, dim)
	v[0] = first
	return v
}

// vecAt returns a zero embedding with component i set to x.
func vecAt(i int, x float64) []float64 {
	v := make([]float64, dim)
	v[i] = x
	return v
}

type fakePurger struct {
	mu       sync.Mutex
	subjects []string
}

func (p *fakePurger) PurgeSubject(_ context.Context, subject string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return 2, nil
}

func newTestRegistry(opt service.RegistryOptions) (*service.Registry, *memory.IdentityStore) {
	st := memory.NewIdentityStore()
	return service.NewRegistry(st, opt), st
}
