package syncer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeBackend emulates the WordPress and WooCommerce collections the engine talks to.
type fakeBackend struct {
	mu            sync.Mutex
	nextID        int64
	slugs         map[string]int64
	payloads      map[int64]map[string]any
	hiddenLookups map[string]int
	failLookups   bool
	creates       int
	updates       int
	lookups       int
	uploads       int
	server        *httptest.Server
}

func newFakeBackend(t *testing.T, firstID int64) *fakeBackend {
	t.Helper()
	backend := &fakeBackend{
		nextID:        firstID,
		slugs:         make(map[string]int64),
		payloads:      make(map[int64]map[string]any),
		hiddenLookups: make(map[string]int),
	}
	backend.server = httptest.NewServer(http.HandlerFunc(backend.handle))
	t.Cleanup(backend.server.Close)
	return backend
}

func (b *fakeBackend) baseURL() string {
	return b.server.URL + "/wp-json/wp/v2"
}

// seed stores a resource as if it had been created outside the importer.
func (b *fakeBackend) seed(collection, slug string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.slugs[collection+"/"+slug] = id
	b.payloads[id] = map[string]any{"slug": slug}
	return id
}

// remove deletes a resource behind the importer's back.
func (b *fakeBackend) remove(collection, slug string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.slugs[collection+"/"+slug]
	delete(b.slugs, collection+"/"+slug)
	delete(b.payloads, id)
}

func (b *fakeBackend) setFailLookups(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLookups = fail
}

func (b *fakeBackend) hideNextLookup(collection, slug string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hiddenLookups[collection+"/"+slug]++
}

func (b *fakeBackend) writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates + b.updates
}

func (b *fakeBackend) counts() (creates, updates, lookups, uploads int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates, b.updates, b.lookups, b.uploads
}

func (b *fakeBackend) payload(id int64) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payloads[id]
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/wp-json/")
	segments := strings.Split(path, "/")
	if len(segments) < 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	collection := segments[2]

	if collection == "media" && r.Method == http.MethodPost {
		b.uploads++
		id := b.nextID
		b.nextID++
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
		return
	}

	switch {
	case r.Method == http.MethodGet && len(segments) == 3:
		b.lookups++
		if b.failLookups {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		slug := r.URL.Query().Get("slug")
		key := collection + "/" + slug
		if b.hiddenLookups[key] > 0 {
			b.hiddenLookups[key]--
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		id, ok := b.slugs[key]
		if !ok {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, []any{map[string]any{"id": id, "slug": slug}})
	case r.Method == http.MethodPost && len(segments) == 3:
		payload := decodePayload(r)
		slug, _ := payload["slug"].(string)
		key := collection + "/" + slug
		b.creates++
		if _, exists := b.slugs[key]; exists {
			writeJSON(w, http.StatusConflict, map[string]any{"code": "slug_exists"})
			return
		}
		id := b.nextID
		b.nextID++
		b.slugs[key] = id
		b.payloads[id] = payload
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "slug": slug})
	case r.Method == http.MethodPost && len(segments) == 4:
		id, err := strconv.ParseInt(segments[3], 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.updates++
		if _, ok := b.payloads[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": "rest_post_invalid_id"})
			return
		}
		payload := decodePayload(r)
		b.payloads[id] = payload
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "slug": payload["slug"]})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodePayload(r *http.Request) map[string]any {
	payload := map[string]any{}
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &payload)
	return payload
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
