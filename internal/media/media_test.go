package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type fakeStore struct {
	puts    map[string][]byte
	types   map[string]string
	deleted []string
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{puts: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.puts[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) URL(key string) string {
	return "https://cdn.test/" + key
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestUploader_Upload(t *testing.T) {
	store := newFakeStore()
	u := NewUploader(store)
	u.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	localPath := writeTemp(t, "me.PNG", pngHeader)

	asset, err := u.Upload(context.Background(), localPath, "avatars")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(asset.Key, "avatars/2026/03/04/"), asset.Key)
	assert.True(t, strings.HasSuffix(asset.Key, ".png"), asset.Key)
	assert.Equal(t, "https://cdn.test/"+asset.Key, asset.URL)
	assert.Equal(t, "image/png", asset.ContentType)
	assert.EqualValues(t, len(pngHeader), asset.Size)
	assert.Equal(t, pngHeader, store.puts[asset.Key])

	_, statErr := os.Stat(localPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "local file should be removed")
}

func TestUploader_Upload_RemovesLocalFileOnFailure(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	u := NewUploader(store)

	localPath := writeTemp(t, "cover.jpg", []byte("jpeg-ish"))

	_, err := u.Upload(context.Background(), localPath, "covers")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")

	_, statErr := os.Stat(localPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "local file should be removed")
}

func TestUploader_Upload_NoFile(t *testing.T) {
	u := NewUploader(newFakeStore())

	_, err := u.Upload(context.Background(), "", "avatars")
	assert.ErrorIs(t, err, ErrNoFile)

	empty := writeTemp(t, "empty.png", nil)
	_, err = u.Upload(context.Background(), empty, "avatars")
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestUploader_Remove(t *testing.T) {
	store := newFakeStore()
	u := NewUploader(store)

	require.NoError(t, u.Remove(context.Background(), Asset{}))
	require.NoError(t, u.Remove(context.Background(), Asset{Key: "avatars/x.png"}))
	assert.Equal(t, []string{"avatars/x.png"}, store.deleted)
}

func multipartFile(t *testing.T, field, filename string, data []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, "/", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File[field][0]
}

func TestSpool(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "temp")
	fh := multipartFile(t, "avatar", "face.png", pngHeader)

	localPath, err := Spool(fh, dir, 1024)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(localPath))
	assert.Equal(t, ".png", filepath.Ext(localPath))

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	Discard(localPath, "")
	_, statErr := os.Stat(localPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestSpool_TooLarge(t *testing.T) {
	dir := t.TempDir()
	fh := multipartFile(t, "avatar", "big.png", bytes.Repeat([]byte("a"), 64))

	_, err := Spool(fh, dir, 16)
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpool_NilHeader(t *testing.T) {
	_, err := Spool(nil, t.TempDir(), 0)
	assert.ErrorIs(t, err, ErrNoFile)
}
