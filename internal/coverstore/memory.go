package coverstore

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps covers in process. Uploads still download and decode the
// original so failures classify the same way as with a real store.
type Memory struct {
	mu         sync.Mutex
	items      map[string]Item
	httpClient HTTPDoer
	baseURL    string
	maxSize    int64
}

// NewMemory creates an in-process gateway. baseURL prefixes item URLs.
func NewMemory(baseURL string, client HTTPDoer, maxSize int64) *Memory {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Memory{
		items:      make(map[string]Item),
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxSize:    maxSize,
	}
}

func (m *Memory) Upload(ctx context.Context, url, folder, identifier string, tags []string) (Item, error) {
	orig, err := fetchOriginal(ctx, m.httpClient, url, m.maxSize)
	if err != nil {
		return Item{}, err
	}

	key := ObjectKey(folder, identifier)
	item := Item{
		ID:     key,
		URL:    m.baseURL + "/" + key,
		Folder: folder,
		Size:   int64(len(orig.data)),
		Width:  orig.width,
		Height: orig.height,
		Format: orig.format,
		Tags:   append([]string(nil), tags...),
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return item, nil
}

func (m *Memory) Remove(_ context.Context, folder, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ObjectKey(folder, identifier)
	if _, ok := m.items[key]; !ok {
		return newError(KindNotFound, "remove", fmt.Errorf("%s not found", key))
	}
	delete(m.items, key)
	return nil
}

func (m *Memory) Search(_ context.Context, query, folder string, maxResults int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Item
	for _, k := range keys {
		item := m.items[k]
		if folder != "" && item.Folder != strings.Trim(folder, "/") {
			continue
		}
		if query != "" && !strings.Contains(k, query) {
			continue
		}
		out = append(out, item)
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

func (m *Memory) Move(_ context.Context, source, destination string, overwrite bool) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := strings.Trim(source, "/")
	dst := strings.Trim(destination, "/")
	item, ok := m.items[src]
	if !ok {
		return Item{}, newError(KindNotFound, "move", fmt.Errorf("%s not found", src))
	}
	if _, exists := m.items[dst]; exists && !overwrite {
		return Item{}, newError(KindInvalidResource, "move", fmt.Errorf("destination %s already exists", dst))
	}

	delete(m.items, src)
	item.ID = dst
	item.URL = m.baseURL + "/" + dst
	item.Folder, _ = splitKey(dst)
	m.items[dst] = item
	return item, nil
}

// Get returns a stored item.
func (m *Memory) Get(folder, identifier string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[ObjectKey(folder, identifier)]
	return item, ok
}
