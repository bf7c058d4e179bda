package tokenstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
)

const watchBuffer = 64

// MemoryBackend is process-local storage shared by any number of
// MemoryRepository views.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[*memoryWatch]struct{}
}

type memoryWatch struct {
	origin string
	ch     chan Change
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string]string),
		watchers: make(map[*memoryWatch]struct{}),
	}
}

// Open returns a new view on the backend with its own change origin.
func (b *MemoryBackend) Open() *MemoryRepository {
	return &MemoryRepository{backend: b, origin: uuid.NewString()}
}

// MemoryRepository is a Repository over a MemoryBackend.
type MemoryRepository struct {
	backend *MemoryBackend
	origin  string
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Watcher    = (*MemoryRepository)(nil)
)

// NewMemoryRepository returns a repository over a fresh private backend.
func NewMemoryRepository() *MemoryRepository {
	return NewMemoryBackend().Open()
}

func (r *MemoryRepository) Get(ctx context.Context, key string) (string, bool, error) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	v, ok := r.backend.data[key]
	return v, ok, nil
}

func (r *MemoryRepository) Set(ctx context.Context, key, value string) error {
	r.backend.mu.Lock()
	r.backend.data[key] = value
	r.backend.mu.Unlock()
	r.backend.publish(Change{Key: key, Origin: r.origin})
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, key string) error {
	r.backend.mu.Lock()
	_, existed := r.backend.data[key]
	delete(r.backend.data, key)
	r.backend.mu.Unlock()
	if existed {
		r.backend.publish(Change{Key: key, Deleted: true, Origin: r.origin})
	}
	return nil
}

func (r *MemoryRepository) Watch(ctx context.Context) (<-chan Change, error) {
	w := &memoryWatch{origin: r.origin, ch: make(chan Change, watchBuffer)}
	r.backend.mu.Lock()
	r.backend.watchers[w] = struct{}{}
	r.backend.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.backend.mu.Lock()
		delete(r.backend.watchers, w)
		close(w.ch)
		r.backend.mu.Unlock()
	}()
	return w.ch, nil
}

func (b *MemoryBackend) publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for w := range b.watchers {
		if w.origin == c.Origin {
			continue
		}
		select {
		case w.ch <- c:
		default:
			logger.Warnf("tokenstore: dropping change notification for %s (watcher full)", c.Key)
		}
	}
}
