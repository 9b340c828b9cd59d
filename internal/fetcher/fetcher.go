// Package fetcher opens knowledge documents from local files, HTTP(S) and
// FTP locations, and parses the tabular formats supplier price lists
// arrive in.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote location.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Opener dispatches a location to the fetcher for its scheme. Plain paths
// and file:// URLs are read from disk.
type Opener struct {
	HTTP Fetcher
	FTP  Fetcher

	breakers *hostBreakers
}

// NewOpener creates an Opener with HTTP and FTP fetchers.
func NewOpener(httpOpts HTTPOptions, ftpOpts FTPOptions) *Opener {
	return &Opener{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
	}
}

// WithBreaker enables per-host circuit breaking for remote downloads.
func (o *Opener) WithBreaker(opts BreakerOptions) *Opener {
	o.breakers = newHostBreakers(opts)
	return o
}

// guard runs download against location's host breaker, if one is enabled.
func (o *Opener) guard(location string, download func() error) error {
	if o.breakers == nil {
		return download()
	}
	host := hostOf(location)
	if err := o.breakers.allow(host); err != nil {
		return err
	}
	err := download()
	o.breakers.record(host, err)
	return err
}

func (o *Opener) remote(location string) (Fetcher, bool, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// No scheme, or a Windows drive letter.
		return nil, false, nil
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return nil, false, nil
	case "http", "https":
		return o.HTTP, true, nil
	case "ftp":
		return o.FTP, true, nil
	default:
		return nil, false, eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, location)
	}
}

func localPath(location string) string {
	if strings.HasPrefix(location, "file://") {
		return strings.TrimPrefix(location, "file://")
	}
	return location
}

// Open returns a reader over the document at location.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	f, remote, err := o.remote(location)
	if err != nil {
		return nil, err
	}
	if remote {
		var body io.ReadCloser
		err = o.guard(location, func() error {
			var derr error
			body, derr = f.Download(ctx, location)
			return derr
		})
		if err != nil {
			return nil, err
		}
		return body, nil
	}
	file, err := os.Open(localPath(location))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", location)
	}
	return file, nil
}

// LocalFile returns a path on disk holding the document at location.
// Remote documents are downloaded into dir; the returned cleanup removes
// them. Local documents are used in place.
func (o *Opener) LocalFile(ctx context.Context, location, dir string) (string, func(), error) {
	f, remote, err := o.remote(location)
	if err != nil {
		return "", nil, err
	}
	if !remote {
		return localPath(location), func() {}, nil
	}

	tmp, err := os.CreateTemp(dir, "knowledge-*"+filepath.Ext(location))
	if err != nil {
		return "", nil, eris.Wrap(err, "fetcher: create temp file")
	}
	path := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(path) }

	err = o.guard(location, func() error {
		_, derr := f.DownloadToFile(ctx, location, path)
		return derr
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
