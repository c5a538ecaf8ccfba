package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moxind/internal/catalog"
	"moxind/internal/gguf"
	"moxind/internal/store"
	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

func ggufBytes(t *testing.T) []byte {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fixture.gguf")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, gguf.WriteHeader(f, map[string]string{"general.architecture": "llama", "general.name": "tiny"}, map[string]uint32{"llama.context_length": 4096}))
	// Pad so progress has several steps.
	_, err = f.Write(make([]byte, 1<<20))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return b
}

func sha(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

type fixture struct {
	dl  *Downloader
	idx *store.Store
	dir string
}

func newFixture(t *testing.T, files []types.File, tr Transport) fixture {
	t.Helper()
	idx, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	cat := catalog.FromModels([]types.Model{{ID: "m", Name: "Model", Files: files}})
	dir := t.TempDir()
	dl := New(cat, idx, Options{Dir: dir, Concurrency: 2, ProgressInterval: time.Nanosecond, Transport: tr})
	return fixture{dl: dl, idx: idx, dir: dir}
}

func (fx fixture) path(id types.FileID, name string) string {
	return filepath.Join(fx.dir, storageDir(id), name)
}

func serve(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadProgressMonotonicThenIndexed(t *testing.T) {
	body := ggufBytes(t)
	srv := serve(t, body)
	fx := newFixture(t, []types.File{{ID: "tiny.gguf", Name: "tiny.gguf", URL: srv.URL + "/tiny.gguf", SHA256: sha(body)}}, nil)

	var fractions []float32
	f, err := fx.dl.Download(context.Background(), "tiny.gguf", func(p float32) { fractions = append(fractions, p) })
	require.NoError(t, err)
	assert.Equal(t, types.FileID("tiny.gguf"), f.ID)

	require.NotEmpty(t, fractions)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	for _, p := range fractions {
		assert.True(t, p >= 0 && p <= 1, "fraction out of range: %v", p)
	}
	assert.Equal(t, float32(1), fractions[len(fractions)-1])

	df, err := fx.idx.Get("tiny.gguf")
	require.NoError(t, err)
	assert.Equal(t, types.PossiblySupported, df.CompatibilityGuess)
	assert.Equal(t, types.ModelID("m"), df.Model.ID)
	assert.FileExists(t, df.Path)
	assert.NoFileExists(t, df.Path+".part")
	assert.Contains(t, df.Information, "llama")
}

func TestDownloadAlreadyDownloadedCompletesImmediately(t *testing.T) {
	body := ggufBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	defer srv.Close()
	fx := newFixture(t, []types.File{{ID: "a.gguf", Name: "a.gguf", URL: srv.URL}}, nil)

	_, err := fx.dl.Download(context.Background(), "a.gguf", nil)
	require.NoError(t, err)
	_, err = fx.dl.Download(context.Background(), "a.gguf", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloadHashMismatch(t *testing.T) {
	srv := serve(t, []byte("not the expected bytes"))
	fx := newFixture(t, []types.File{{ID: "bad.gguf", Name: "bad.gguf", URL: srv.URL, SHA256: sha([]byte("other"))}}, nil)

	_, err := fx.dl.Download(context.Background(), "bad.gguf", nil)
	assert.ErrorIs(t, err, ErrHashMismatch)
	assert.NoFileExists(t, fx.path("bad.gguf", "bad.gguf"))
	assert.NoFileExists(t, fx.path("bad.gguf", "bad.gguf.part"))
	_, err = fx.idx.Get("bad.gguf")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDownloadUnknownFile(t *testing.T) {
	fx := newFixture(t, nil, nil)
	_, err := fx.dl.Download(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, protocol.ErrFileNotFound)
}

func TestDownloadNonGGUFIsNotSupported(t *testing.T) {
	srv := serve(t, []byte("plain text, not a model"))
	fx := newFixture(t, []types.File{{ID: "x.bin", Name: "x.bin", URL: srv.URL}}, nil)
	_, err := fx.dl.Download(context.Background(), "x.bin", nil)
	require.NoError(t, err)
	df, err := fx.idx.Get("x.bin")
	require.NoError(t, err)
	assert.Equal(t, types.NotSupported, df.CompatibilityGuess)
}

// blockingTransport holds Fetch open until released.
type blockingTransport struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTransport) Fetch(ctx context.Context, file types.File, dst io.Writer, progress func(done, total int64)) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err := dst.Write([]byte("data"))
	return err
}

func TestDownloadDuplicateInProgressRejected(t *testing.T) {
	tr := &blockingTransport{started: make(chan struct{}), release: make(chan struct{})}
	fx := newFixture(t, []types.File{{ID: "d.gguf", Name: "d.gguf", URL: "http://unused"}}, tr)

	errc := make(chan error, 1)
	go func() {
		_, err := fx.dl.Download(context.Background(), "d.gguf", nil)
		errc <- err
	}()
	<-tr.started
	assert.True(t, fx.dl.Active("d.gguf"))

	_, err := fx.dl.Download(context.Background(), "d.gguf", nil)
	assert.ErrorIs(t, err, protocol.ErrDownloadInProgress)
	assert.True(t, errors.Is(err, protocol.ErrStateConflict))

	close(tr.release)
	require.NoError(t, <-errc)
	assert.False(t, fx.dl.Active("d.gguf"))
}

func TestDownloadCancelRemovesPart(t *testing.T) {
	tr := &blockingTransport{started: make(chan struct{}), release: make(chan struct{})}
	fx := newFixture(t, []types.File{{ID: "c.gguf", Name: "c.gguf", URL: "http://unused"}}, tr)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := fx.dl.Download(ctx, "c.gguf", nil)
		errc <- err
	}()
	<-tr.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.NoFileExists(t, fx.path("c.gguf", "c.gguf.part"))
}

func TestFileSchemeImport(t *testing.T) {
	src := filepath.Join(t.TempDir(), "local.gguf")
	require.NoError(t, os.WriteFile(src, ggufBytes(t), 0o644))
	fx := newFixture(t, []types.File{{ID: "local.gguf", Name: "local.gguf", URL: "file://" + src}}, nil)

	_, err := fx.dl.Download(context.Background(), "local.gguf", nil)
	require.NoError(t, err)
	assert.FileExists(t, fx.path("local.gguf", "local.gguf"))
}

func TestFileSchemeInsideModelsDirIndexedInPlace(t *testing.T) {
	idx, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	dir := t.TempDir()
	src := filepath.Join(dir, "mine.gguf")
	require.NoError(t, os.WriteFile(src, ggufBytes(t), 0o644))
	cat := catalog.FromModels([]types.Model{{ID: "m", Files: []types.File{{ID: "mine.gguf", Name: "mine.gguf", URL: "file://" + src}}}})
	dl := New(cat, idx, Options{Dir: dir})

	_, err = dl.Download(context.Background(), "mine.gguf", nil)
	require.NoError(t, err)
	df, err := idx.Get("mine.gguf")
	require.NoError(t, err)
	assert.Equal(t, src, df.Path)
	assert.NoDirExists(t, filepath.Join(dir, "mine.gguf"))
}

func TestSameNameDifferentIDsKeepSeparateArtifacts(t *testing.T) {
	bodies := map[string][]byte{"/a": []byte("AAAA"), "/b": []byte("BBBB")}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bodies[r.URL.Path])
	}))
	defer srv.Close()
	fx := newFixture(t, []types.File{
		{ID: "author1/q4", Name: "model.Q4_K_M.gguf", URL: srv.URL + "/a"},
		{ID: "author2/q4", Name: "model.Q4_K_M.gguf", URL: srv.URL + "/b"},
	}, nil)

	_, err := fx.dl.Download(context.Background(), "author1/q4", nil)
	require.NoError(t, err)
	_, err = fx.dl.Download(context.Background(), "author2/q4", nil)
	require.NoError(t, err)

	first, err := fx.idx.Get("author1/q4")
	require.NoError(t, err)
	second, err := fx.idx.Get("author2/q4")
	require.NoError(t, err)
	assert.NotEqual(t, first.Path, second.Path)
	got, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(got))
	got, err = os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, "BBBB", string(got))
}

func TestStorageDirIsOneSafeElement(t *testing.T) {
	for _, id := range []types.FileID{"a/b", "a%2Fb", "..", ".", "", "../x", ".hidden"} {
		d := storageDir(id)
		assert.NotContains(t, d, "/", "id %q", id)
		assert.NotEqual(t, ".", d)
		assert.NotEqual(t, "..", d)
		assert.False(t, d[0] == '.', "id %q", id)
	}
	assert.NotEqual(t, storageDir("a/b"), storageDir("a%2Fb"))
}

func TestDownloadedFilesNotRediscoveredOnReload(t *testing.T) {
	body := ggufBytes(t)
	srv := serve(t, body)
	dir := t.TempDir()
	catFile := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(catFile, []byte(`models:
  - id: acme/tiny
    name: Tiny
    files:
      - id: acme/tiny/q4
        name: tiny.Q4_K_M.gguf
        url: `+srv.URL+`
`), 0o644))
	cat, err := catalog.New(catalog.Options{File: catFile, ModelsDir: dir})
	require.NoError(t, err)
	idx, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	dl := New(cat, idx, Options{Dir: dir})

	_, err = dl.Download(context.Background(), "acme/tiny/q4", nil)
	require.NoError(t, err)
	require.NoError(t, cat.Reload())
	assert.Len(t, cat.Models(), 1)
	assert.Len(t, cat.Search("tiny"), 1)
}

func TestFileNameStripsDirectories(t *testing.T) {
	assert.Equal(t, "x.gguf", fileName(types.File{ID: "../../x.gguf"}))
	assert.Equal(t, "y.gguf", fileName(types.File{ID: "id", Name: "a/b/y.gguf"}))
}
