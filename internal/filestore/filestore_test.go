package filestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/recall/internal/config"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	st, err := New(config.FileStoreConfig{Type: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "owner/abc", strings.NewReader("hello"), 5))
	rc, err := st.Open(ctx, "owner/abc")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, st.Save(ctx, "owner/abc", strings.NewReader("again"), 5))
	rc, err = st.Open(ctx, "owner/abc")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "again", string(data))

	require.NoError(t, st.Delete(ctx, "owner/abc"))
	require.NoError(t, st.Delete(ctx, "owner/abc"))
	_, err = st.Open(ctx, "owner/abc")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestLocalStoreRejectsBadKeys(t *testing.T) {
	st, err := New(config.FileStoreConfig{Type: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	for _, key := range []string{"", "/abs", "../up", "a/../b", "a//b", "a\\b"} {
		err := st.Save(context.Background(), key, strings.NewReader("x"), 1)
		require.ErrorIs(t, err, appErr.ErrInvalid, key)
	}
}

func TestNewValidatesType(t *testing.T) {
	_, err := New(config.FileStoreConfig{})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "ftp"})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "s3"})
	require.Error(t, err)
}

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
	require.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	require.Equal(t, "http://x", endpointURL("http://x", true))
}
