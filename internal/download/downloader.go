// Package download fetches catalog files into the models directory and
// records them in the downloaded-file index.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"moxind/internal/common/fsutil"
	"moxind/internal/gguf"
	"moxind/internal/store"
	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// ErrHashMismatch is returned when the fetched bytes do not match File.SHA256.
var ErrHashMismatch = errors.New("sha256 mismatch")

// Resolver maps a FileID to its catalog entry.
type Resolver interface {
	File(id types.FileID) (types.File, types.Model, error)
}

// Index records completed downloads.
type Index interface {
	Add(df types.DownloadedFile) (types.DownloadedFile, error)
	Get(id types.FileID) (types.DownloadedFile, error)
}

// DefaultProgressInterval bounds how often progress is reported per download.
const DefaultProgressInterval = 200 * time.Millisecond

// Options configure a Downloader.
type Options struct {
	Dir              string
	Concurrency      int
	ProgressInterval time.Duration
	Transport        Transport
	Logger           *zerolog.Logger
}

// Downloader runs downloads with bounded concurrency.
type Downloader struct {
	dir      string
	tr       Transport
	res      Resolver
	idx      Index
	sem      *semaphore.Weighted
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	active map[types.FileID]struct{}
}

// New returns a Downloader writing into opts.Dir.
func New(res Resolver, idx Index, opts Options) *Downloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Transport == nil {
		opts.Transport = NewHTTPTransport()
	}
	d := &Downloader{
		dir:      opts.Dir,
		tr:       opts.Transport,
		res:      res,
		idx:      idx,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		interval: opts.ProgressInterval,
		log:      zerolog.Nop(),
		active:   make(map[types.FileID]struct{}),
	}
	if opts.Logger != nil {
		d.log = *opts.Logger
	}
	return d
}

// Download fetches id and returns its catalog File once it is on disk and
// indexed. progress receives non-decreasing fractions in [0,1].
func (d *Downloader) Download(ctx context.Context, id types.FileID, progress func(float32)) (types.File, error) {
	file, model, err := d.res.File(id)
	if err != nil {
		return types.File{}, err
	}
	if df, err := d.idx.Get(id); err == nil && fsutil.PathExists(df.Path) {
		return df.File, nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return types.File{}, fmt.Errorf("lookup %s: %w", id, err)
	}

	if !d.claim(id) {
		return types.File{}, fmt.Errorf("%w: %s", protocol.ErrDownloadInProgress, id)
	}
	defer d.release(id)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return types.File{}, err
	}
	defer d.sem.Release(1)

	start := time.Now()
	d.log.Info().Str("file", string(id)).Msg("download: starting")
	tracker := newProgressTracker(d.interval, progress)
	tracker.report(0)

	path, err := d.fetch(ctx, file, tracker)
	if err != nil {
		d.log.Warn().Err(err).Str("file", string(id)).Msg("download: failed")
		return types.File{}, err
	}

	report, guess := gguf.InspectFile(path)
	if _, err := d.idx.Add(types.DownloadedFile{
		File:               file,
		Model:              model,
		DownloadedAt:       time.Now(),
		CompatibilityGuess: guess,
		Information:        report.JSON(),
		Path:               path,
	}); err != nil {
		return types.File{}, fmt.Errorf("index %s: %w", id, err)
	}
	tracker.finish()
	d.log.Info().Str("file", string(id)).Str("path", path).Dur("took", time.Since(start)).Str("compatibility", string(guess)).Msg("download: completed")
	return file, nil
}

// Active reports whether id is currently downloading.
func (d *Downloader) Active(id types.FileID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[id]
	return ok
}

func (d *Downloader) claim(id types.FileID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.active[id]; busy {
		return false
	}
	d.active[id] = struct{}{}
	return true
}

func (d *Downloader) release(id types.FileID) {
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

// fetch streams into <dir>/<id>/<name>.part, verifies the hash and renames
// the part file into place. Each FileID gets its own directory so files
// sharing a name never overwrite each other.
func (d *Downloader) fetch(ctx context.Context, file types.File, tracker *progressTracker) (string, error) {
	root, err := fsutil.EnsureDir(d.dir)
	if err != nil {
		return "", err
	}
	if u, err := url.Parse(file.URL); err == nil && u.Scheme == "file" && within(root, u.Path) {
		// Local import of a file already in the models dir: index it in place.
		if !fsutil.PathExists(u.Path) {
			return "", fmt.Errorf("%s: %w", u.Path, os.ErrNotExist)
		}
		return filepath.Clean(u.Path), nil
	}
	dir, err := fsutil.EnsureDir(filepath.Join(root, storageDir(file.ID)))
	if err != nil {
		return "", err
	}
	final := filepath.Join(dir, fileName(file))
	part := final + ".part"

	f, err := os.Create(part)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	ferr := d.tr.Fetch(ctx, file, io.MultiWriter(f, h), func(done, total int64) {
		if total <= 0 {
			total = file.Size
		}
		tracker.update(done, total)
	})
	if cerr := f.Close(); ferr == nil {
		ferr = cerr
	}
	if ferr != nil {
		os.Remove(part)
		return "", ferr
	}
	if want := strings.ToLower(file.SHA256); want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			os.Remove(part)
			return "", fmt.Errorf("%s: %w", file.ID, ErrHashMismatch)
		}
	}
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return "", err
	}
	return final, nil
}

// storageDir maps id to a single path element. Escaping keeps distinct ids
// distinct; a leading dot is escaped too so "." and ".." cannot climb out.
func storageDir(id types.FileID) string {
	s := url.PathEscape(string(id))
	if s == "" {
		return "_"
	}
	if s[0] == '.' {
		s = "%2E" + s[1:]
	}
	return s
}

// fileName keeps only the base name so catalog names cannot escape the dir.
func fileName(file types.File) string {
	name := file.Name
	if name == "" {
		name = string(file.ID)
	}
	return filepath.Base(filepath.Clean("/" + name))
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
