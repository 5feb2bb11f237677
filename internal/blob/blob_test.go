package blob

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	storageapi "google.golang.org/api/storage/v1"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/gcp"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Store(ctx, "jobs/abc/raw", []byte("hello")))
	require.NoError(t, store.Store(ctx, "jobs/abc/raw", []byte("replaced")))

	data, err := store.Fetch(ctx, "jobs/abc/raw")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	matches, err := filepath.Glob(filepath.Join(store.Root(), "jobs", "abc", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files are cleaned up")
}

func TestLocalStore_Errors(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.Error(t, store.Store(ctx, "../escape", []byte("x")))
	assert.Error(t, store.Store(ctx, " ", []byte("x")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.Store(cancelled, "a", []byte("x")), context.Canceled)

	_, err = NewLocalStore("")
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

// fakeGCS serves the subset of the JSON API used by GCSStore.
type fakeGCS struct {
	objects map[string][]byte
	mu      sync.Mutex
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/storage/v1/b/bucket/o"):
		name, data, err := readMultipart(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.objects[name] = data
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": name, "bucket": "bucket"})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/storage/v1/b/bucket/o/"):
		name := strings.TrimPrefix(r.URL.Path, "/storage/v1/b/bucket/o/")
		data, ok := f.objects[name]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
			return
		}
		_, _ = w.Write(data)

	default:
		http.Error(w, "unexpected request "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func readMultipart(r *http.Request) (string, []byte, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", nil, err
	}
	reader := multipart.NewReader(r.Body, params["boundary"])

	meta, err := reader.NextPart()
	if err != nil {
		return "", nil, err
	}
	var obj storageapi.Object
	if err := json.NewDecoder(meta).Decode(&obj); err != nil {
		return "", nil, err
	}

	media, err := reader.NextPart()
	if err != nil {
		return "", nil, err
	}
	data, err := io.ReadAll(media)
	return obj.Name, data, err
}

func newFakeGCSStore(t *testing.T, prefix string) (*GCSStore, *fakeGCS) {
	t.Helper()
	fake := &fakeGCS{objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	api, err := storageapi.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := NewGCSStoreWithAPI(api, "bucket", prefix)
	require.NoError(t, err)
	return store, fake
}

func TestGCSStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeGCSStore(t, "/redactions/")

	require.NoError(t, store.Store(ctx, "req-1/raw", []byte("payload")))
	assert.Contains(t, fake.objects, "redactions/req-1/raw")

	data, err := store.Fetch(ctx, "req-1/raw")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = store.Fetch(ctx, "req-1/missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestNewGCSStoreWithAPI_RequiresBucket(t *testing.T) {
	_, err := NewGCSStoreWithAPI(nil, "", "")
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name     string
		location string
		wantErr  bool
		local    bool
	}{
		{name: "plain path", location: dir, local: true},
		{name: "file url", location: "file://" + dir, local: true},
		{name: "bucket", location: "gs://bucket/prefix"},
		{name: "missing bucket", location: "gs://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(ctx, tt.location, gcp.Config{Anonymous: true})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, isLocal := store.(*LocalStore)
			assert.Equal(t, tt.local, isLocal)
		})
	}
}
