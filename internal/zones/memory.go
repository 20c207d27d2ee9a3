package zones

import (
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps zones in a slice. An optional save hook is called
// with the full list after every change, which is how FileRepository
// persists them.
type MemoryRepository struct {
	mu    sync.RWMutex
	zones []Zone
	tol   Tolerance
	save  func([]Zone) error
}

// NewMemoryRepository returns an empty repository matching with tol.
func NewMemoryRepository(tol Tolerance) *MemoryRepository {
	return &MemoryRepository{tol: tol}
}

func (r *MemoryRepository) Add(z Zone) (Zone, error) {
	if err := z.Validate(); err != nil {
		return Zone{}, err
	}
	if z.ID == "" {
		z.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones = append(r.zones, z)
	if err := r.persist(); err != nil {
		r.zones = r.zones[:len(r.zones)-1]
		return Zone{}, err
	}
	return z, nil
}

func (r *MemoryRepository) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]Zone, 0, len(r.zones))
	for _, z := range r.zones {
		if z.Name != name {
			kept = append(kept, z)
		}
	}
	if len(kept) == len(r.zones) {
		return nil
	}
	prev := r.zones
	r.zones = kept
	if err := r.persist(); err != nil {
		r.zones = prev
		return err
	}
	return nil
}

func (r *MemoryRepository) List() ([]Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return out, nil
}

func (r *MemoryRepository) Match(angle, distance float64) (Zone, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := FirstMatch(r.zones, r.tol, angle, distance)
	return z, ok, nil
}

func (r *MemoryRepository) persist() error {
	if r.save == nil {
		return nil
	}
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return r.save(out)
}
