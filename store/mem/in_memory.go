package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/loadflow/store"
)

var (
	_ store.Store = &memStore{}
)

func NewMemStore() store.Store {
	return &memStore{
		m: make(map[string][]byte),
		// setup no error as default
		mockErrHandler: defaultNoErr,
	}
}

// NewMemStoreWithErrHandler returns the error of the handler on every call.
func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	return &memStore{
		m:              make(map[string][]byte),
		mockErrHandler: errHandler,
	}
}

func defaultNoErr() error {
	return nil
}

/**
 * memStore keeps everything in memory, for standalone runs and testing.
 * The state is lost with the process.
 */
type memStore struct {
	mu sync.Mutex

	mockErrHandler func() error

	m map[string][]byte
}

func (m *memStore) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("\n----------\n")
	for _, key := range m.sortedKeys("") {
		fmt.Fprintf(&sb, "%s: %s\n", key, string(m.m[key]))
	}
	sb.WriteString("----------\n")
	return sb.String()
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, exists := m.m[prefix+"|"+key]
	if !exists {
		return nil, m.mockErrHandler()
	}
	return append([]byte(nil), value...), m.mockErrHandler()
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.m[prefix+"|"+key] = append([]byte(nil), value...)
	return m.mockErrHandler()
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.m, prefix+"|"+key)
	return m.mockErrHandler()
}

func (m *memStore) RemovePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.sortedKeys(prefix + "|") {
		delete(m.m, key)
	}
	return m.mockErrHandler()
}

func (m *memStore) sortedKeys(prefix string) []string {
	matchedKeys := make([]string, 0)
	for key := range m.m {
		if strings.HasPrefix(key, prefix) {
			matchedKeys = append(matchedKeys, key)
		}
	}
	sort.Strings(matchedKeys)
	return matchedKeys
}

func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	m.mu.Lock()
	prefix += "|"
	matchedKeys := m.sortedKeys(prefix)
	m.mu.Unlock()

	for _, key := range matchedKeys {
		key, _ = strings.CutPrefix(key, prefix)
		if !iterator(key) {
			break
		}
	}
	return m.mockErrHandler()
}

func (m *memStore) Close() error {
	return nil
}
