package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpener() *Opener {
	return NewOpener(HTTPOptions{RatePerSec: 100, BaseBackoff: time.Millisecond}, FTPOptions{})
}

func TestOpener_LocalPathAndFileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accessories: []\n"), 0o644))

	for _, loc := range []string{path, "file://" + path} {
		rc, err := testOpener().Open(context.Background(), loc)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "accessories: []\n", string(data))

		local, cleanup, err := testOpener().LocalFile(context.Background(), loc, t.TempDir())
		require.NoError(t, err)
		cleanup()
		assert.Equal(t, path, local)
		_, err = os.Stat(path)
		assert.NoError(t, err, "local files must survive cleanup")
	}
}

func TestOpener_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	o := testOpener()
	rc, err := o.Open(context.Background(), srv.URL+"/web.json")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "remote", string(data))

	local, cleanup, err := o.LocalFile(context.Background(), srv.URL+"/prices.xlsx", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ".xlsx", filepath.Ext(local))
	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(got))

	cleanup()
	_, err = os.Stat(local)
	assert.True(t, os.IsNotExist(err))
}

func TestOpener_UnsupportedScheme(t *testing.T) {
	_, err := testOpener().Open(context.Background(), "s3://bucket/key.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestOpener_MissingFile(t *testing.T) {
	_, err := testOpener().Open(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
