package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"moxind/pkg/types"
)

// Transport fetches the bytes of a file into dst. progress receives the
// cumulative byte count and the expected total (-1 when unknown).
type Transport interface {
	Fetch(ctx context.Context, file types.File, dst io.Writer, progress func(done, total int64)) error
}

// HTTPTransport fetches http(s) URLs and copies file:// URLs from disk.
type HTTPTransport struct {
	Client *http.Client
	// UserAgent is sent on http requests when set.
	UserAgent string
}

// NewHTTPTransport returns a transport using http.DefaultClient.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: http.DefaultClient, UserAgent: "moxind"}
}

func (t *HTTPTransport) Fetch(ctx context.Context, file types.File, dst io.Writer, progress func(done, total int64)) error {
	if file.URL == "" {
		return fmt.Errorf("file %s has no source url", file.ID)
	}
	u, err := url.Parse(file.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		total := file.Size
		if st, err := f.Stat(); err == nil {
			total = st.Size()
		}
		return copyWithProgress(ctx, dst, f, total, progress)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
		if err != nil {
			return err
		}
		if t.UserAgent != "" {
			req.Header.Set("User-Agent", t.UserAgent)
		}
		client := t.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, file.ID)
		}
		total := resp.ContentLength
		if total <= 0 && file.Size > 0 {
			total = file.Size
		}
		return copyWithProgress(ctx, dst, resp.Body, total, progress)
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

// copyWithProgress copies in fixed chunks so cancellation is observed between
// reads.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress func(done, total int64)) error {
	if total <= 0 {
		total = -1
	}
	buf := make([]byte, 256<<10)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
