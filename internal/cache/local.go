package cache

import (
	"bytes"
	"compress/gzip"
	"io"
	"sync"

	"github.com/ourstudio-se/oat-db/internal/model"
)

// localTier is the in-process first tier of the view cache, a plain
// mutex-guarded map rather than sync.Map since views are read far more
// than they're written and a typical deployment holds at most a few
// thousand distinct commit hashes resident at once.
type localTier struct {
	mu    sync.RWMutex
	views map[string]*model.View
}

func newLocalTier() *localTier {
	return &localTier{views: make(map[string]*model.View)}
}

func (t *localTier) get(key string) (*model.View, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.views[key]
	return v, ok
}

func (t *localTier) put(key string, view *model.View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[key] = view
}

func (t *localTier) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.views, key)
}

// gunzip reverses versioning.CompressPayload without the claimed-size
// check DecompressPayload enforces against a stored data_size column —
// the Redis tier has no such column, only the compressed bytes.
func gunzip(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
