// Package netx holds the attachment blob downloader. Blobs are cached on
// disk under content-addressed names so re-fetching the same URL is cheap.
package netx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pubsync/pubsync/internal/filex"
)

// maxBlobSize caps a single attachment download.
const maxBlobSize = 32 << 20

// Downloader fetches attachment blobs into a local cache directory.
type Downloader struct {
	client *http.Client
	dir    string
}

// NewDownloader ensures the cache directory exists under the working
// directory and returns a Downloader writing into it.
func NewDownloader(dirName string, timeout time.Duration) (*Downloader, error) {
	dir, err := filex.EnsureSubDir(dirName)
	if err != nil {
		return nil, err
	}
	return &Downloader{client: &http.Client{Timeout: timeout}, dir: dir}, nil
}

// Download fetches url over HTTP and stores the blob. Returns the local path.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}
	return d.Store(url, data)
}

// Store writes an already-fetched blob into the cache under a name derived
// from its source URL. Returns the local path.
func (d *Downloader) Store(url string, data []byte) (string, error) {
	sum := sha256.Sum256([]byte(url))
	path := filepath.Join(d.dir, hex.EncodeToString(sum[:]))
	if err := os.WriteFile(path, data, 0o660); err != nil {
		return "", fmt.Errorf("writing blob for %s: %w", url, err)
	}
	return path, nil
}

// Path returns where the blob for url would be stored, without fetching.
func (d *Downloader) Path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:]))
}
