package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu       sync.Mutex
	records  map[string]*Record
	released int
	err      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*Record)}
}

func (m *memoryStore) Acquire(_ context.Context, rec *Record) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	id := rec.Scope + "|" + rec.Key
	if existing, ok := m.records[id]; ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := *rec
	stored.ID = id
	lockedAt := rec.CreatedAt
	stored.LockedAt = &lockedAt
	m.records[id] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *memoryStore) Relock(_ context.Context, id string, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.IsCompleted() || rec.LockedAt == nil || !rec.LockedAt.Before(staleBefore) {
		return false, nil
	}
	now := time.Now().UTC()
	rec.LockedAt = &now
	return true, nil
}

func (m *memoryStore) Complete(_ context.Context, id string, code int, body []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.ResponseCode = code
	rec.ResponseBody = append([]byte(nil), body...)
	rec.ResponseHeaders = headers
	rec.CompletedAt = &now
	rec.LockedAt = nil
	return nil
}

func (m *memoryStore) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	m.released++
	return nil
}

func (m *memoryStore) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.ExpiresAt.Before(before) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func newRouter(store Store, calls *int, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	config := DefaultConfig("ledger-engine", store, nil)
	router := gin.New()
	router.Use(Middleware(config))
	router.POST("/changes", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"call": *calls})
	})
	router.POST("/failing", func(c *gin.Context) {
		*calls++
		_ = c.Error(errors.New("boom"))
	})
	router.GET("/changes", func(c *gin.Context) {
		*calls++
		c.Status(http.StatusOK)
	})
	return router
}

func post(router *gin.Engine, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ReplaysCompletedRequest(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	router := newRouter(store, &calls, http.StatusCreated)

	first := post(router, "/changes", "key-1", `{"documentNo":"GD-1"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := post(router, "/changes", "key-1", `{"documentNo":"GD-1"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, 1, calls)
}

func TestMiddleware_KeyOptional(t *testing.T) {
	calls := 0
	router := newRouter(newMemoryStore(), &calls, http.StatusOK)

	post(router, "/changes", "", `{}`)
	post(router, "/changes", "", `{}`)
	assert.Equal(t, 2, calls)
}

func TestMiddleware_SkipsSafeMethods(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	router := newRouter(store, &calls, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/changes", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1, calls)
	assert.Empty(t, store.records)
}

func TestMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(store *memoryStore, router *gin.Engine)
		key    string
		body   string
		status int
	}{
		{
			name:   "invalid key",
			key:    "bad key!",
			body:   `{}`,
			status: http.StatusBadRequest,
		},
		{
			name: "different body",
			setup: func(_ *memoryStore, router *gin.Engine) {
				post(router, "/changes", "key-1", `{"a":1}`)
			},
			key:    "key-1",
			body:   `{"a":2}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "in flight",
			setup: func(store *memoryStore, _ *gin.Engine) {
				now := time.Now().UTC()
				store.records["ledger-engine|key-1"] = &Record{
					ID:          "ledger-engine|key-1",
					Key:         "key-1",
					Scope:       "ledger-engine",
					Fingerprint: Fingerprint(http.MethodPost, "/changes", []byte(`{}`)),
					LockedAt:    &now,
				}
			},
			key:    "key-1",
			body:   `{}`,
			status: http.StatusConflict,
		},
		{
			name: "store down",
			setup: func(store *memoryStore, _ *gin.Engine) {
				store.err = errors.New("connection refused")
			},
			key:    "key-1",
			body:   `{}`,
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			calls := 0
			router := newRouter(store, &calls, http.StatusOK)
			if tt.setup != nil {
				tt.setup(store, router)
			}
			before := calls

			w := post(router, "/changes", tt.key, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, before, calls)
		})
	}
}

func TestMiddleware_StaleLockIsTakenOver(t *testing.T) {
	store := newMemoryStore()
	stale := time.Now().UTC().Add(-time.Hour)
	store.records["ledger-engine|key-1"] = &Record{
		ID:          "ledger-engine|key-1",
		Key:         "key-1",
		Scope:       "ledger-engine",
		Fingerprint: Fingerprint(http.MethodPost, "/changes", []byte(`{}`)),
		LockedAt:    &stale,
	}
	calls := 0
	router := newRouter(store, &calls, http.StatusOK)

	w := post(router, "/changes", "key-1", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	assert.True(t, store.records["ledger-engine|key-1"].IsCompleted())
}

func TestMiddleware_FailedRequestReleasesKey(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	router := newRouter(store, &calls, http.StatusOK)

	post(router, "/failing", "key-1", `{}`)
	post(router, "/failing", "key-1", `{}`)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, store.released)
	assert.Empty(t, store.records)
}

func TestMiddleware_ScopesKeysPerUser(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	router := newRouter(store, &calls, http.StatusOK)

	for _, user := range []string{"alice", "bob"} {
		req := httptest.NewRequest(http.MethodPost, "/changes", bytes.NewBufferString(`{}`))
		req.Header.Set(HeaderIdempotencyKey, "shared")
		req.Header.Set("X-User-ID", user)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 2, calls)
	assert.Contains(t, store.records, "ledger-engine/alice|shared")
	assert.Contains(t, store.records, "ledger-engine/bob|shared")
}

func TestValidateKey(t *testing.T) {
	assert.ErrorIs(t, ValidateKey("", 10), ErrKeyRequired)
	assert.ErrorIs(t, ValidateKey("abcdefghijk", 10), ErrKeyTooLong)
	assert.ErrorIs(t, ValidateKey("a b", 10), ErrKeyInvalid)
	assert.NoError(t, ValidateKey("order_123-A", 20))
}

func TestFingerprint_IncludesRequestLine(t *testing.T) {
	body := []byte(`{}`)
	assert.Equal(t, Fingerprint("POST", "/a", body), Fingerprint("POST", "/a", body))
	assert.NotEqual(t, Fingerprint("POST", "/a", body), Fingerprint("POST", "/b", body))
	assert.NotEqual(t, Fingerprint("POST", "/a", body), Fingerprint("PUT", "/a", body))
}
