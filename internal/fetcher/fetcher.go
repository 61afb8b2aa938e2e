// Package fetcher downloads remote record files so they can be imported
// like local ones.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ToTemp downloads rawURL into a temp file that keeps the URL's file
// extension, so format detection still works. cleanup removes the file.
func ToTemp(ctx context.Context, f Fetcher, rawURL string) (string, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, eris.Wrap(err, "fetcher: parse url")
	}
	ext := strings.ToLower(path.Ext(u.Path))

	tmp, err := os.CreateTemp("", "schoolmap-*"+ext)
	if err != nil {
		return "", nil, eris.Wrap(err, "fetcher: create temp file")
	}
	name := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := f.DownloadToFile(ctx, rawURL, name); err != nil {
		cleanup()
		return "", nil, err
	}
	return name, cleanup, nil
}
