package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
	// User and Password are used when the location carries no credentials.
	// Empty means anonymous.
	User     string
	Password string
}

// FTPFetcher downloads supplier price drops over FTP. A location whose file
// name is a glob (ftp://host/drops/prices-*.xlsx) resolves to the newest
// matching file in that directory.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User, opts.Password = "anonymous", "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path and credentials from an FTP
// URL. Credentials in the URL win over the configured ones.
func (f *FTPFetcher) parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return ftpTarget{}, eris.Errorf("fetcher: ftp url %s names no file", u.Redacted())
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: f.opts.User, password: f.opts.Password}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.password = "anonymous@"
		if p, ok := u.User.Password(); ok {
			t.password = p
		}
	}
	return t, nil
}

func isGlob(name string) bool {
	return strings.ContainsAny(name, "*?[")
}

// latestMatch returns the newest regular file matching pattern. Equal
// timestamps fall back to the greater name, so date-stamped drops sort
// correctly on servers that only report day precision.
func latestMatch(entries []*ftp.Entry, pattern string) (string, error) {
	var best *ftp.Entry
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		ok, err := path.Match(pattern, e.Name)
		if err != nil {
			return "", eris.Wrapf(err, "fetcher: ftp pattern %q", pattern)
		}
		if !ok {
			continue
		}
		if best == nil || e.Time.After(best.Time) || (e.Time.Equal(best.Time) && e.Name > best.Name) {
			best = e
		}
	}
	if best == nil {
		return "", eris.Errorf("fetcher: no ftp file matches %q", pattern)
	}
	return best.Name, nil
}

// ftpConnReader closes the FTP response and the connection together.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp connection")
	}
	return nil
}

// Download connects to the FTP server, retrieves the file, and returns a reader.
// The caller must close the returned ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := f.parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp dial %s", t.host)
	}
	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp login %s", t.host)
	}

	file := t.path
	if dir, pattern := path.Split(t.path); isGlob(pattern) {
		entries, err := conn.List(dir)
		if err != nil {
			_ = conn.Quit()
			return nil, eris.Wrapf(err, "fetcher: ftp list %s", dir)
		}
		name, err := latestMatch(entries, pattern)
		if err != nil {
			_ = conn.Quit()
			return nil, err
		}
		file = path.Join(dir, name)
	}

	zap.L().Debug("fetcher: ftp retrieve", zap.String("host", t.host), zap.String("path", file))

	resp, err := conn.Retr(file)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", file)
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// DownloadToFile downloads the FTP URL to a local file. Returns bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, dest string) (int64, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrapf(err, "fetcher: write %s", dest)
	}
	return n, nil
}
