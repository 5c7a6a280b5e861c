// Package media turns files received from clients into publicly reachable
// assets on the configured object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sniffLen = 512

var (
	// ErrNoFile is returned when there is no local file to upload.
	ErrNoFile = errors.New("no file to upload")
	// ErrTooLarge is returned when an incoming file exceeds the upload cap.
	ErrTooLarge = errors.New("uploaded file too large")
)

// ObjectStore is the subset of storage.Storage the uploader needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Asset describes an uploaded object.
type Asset struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Uploader pushes local files to object storage.
type Uploader struct {
	store ObjectStore
	now   func() time.Time
}

func NewUploader(store ObjectStore) *Uploader {
	return &Uploader{store: store, now: time.Now}
}

// Upload stores the file at localPath under folder and returns its public
// URL. The local file is removed whether or not the upload succeeds.
func (u *Uploader) Upload(ctx context.Context, localPath, folder string) (Asset, error) {
	if strings.TrimSpace(localPath) == "" {
		return Asset{}, ErrNoFile
	}
	defer os.Remove(localPath)

	file, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Asset{}, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() == 0 {
		return Asset{}, ErrNoFile
	}

	contentType, err := detectContentType(file, localPath)
	if err != nil {
		return Asset{}, err
	}

	key := u.objectKey(folder, filepath.Ext(localPath))
	if err := u.store.Put(ctx, key, file, info.Size(), contentType); err != nil {
		return Asset{}, fmt.Errorf("put object %s: %w", key, err)
	}

	url := u.store.URL(key)
	if url == "" {
		return Asset{}, fmt.Errorf("no public url for %s", key)
	}

	return Asset{
		Key:         key,
		URL:         url,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}

// Remove deletes a previously uploaded asset. Used to roll back uploads whose
// owning record could not be written.
func (u *Uploader) Remove(ctx context.Context, asset Asset) error {
	if asset.Key == "" {
		return nil
	}
	return u.store.Delete(ctx, asset.Key)
}

func (u *Uploader) objectKey(folder, ext string) string {
	d := u.now().UTC()
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = "uploads"
	}
	return path.Join(folder, fmt.Sprintf("%04d/%02d/%02d", d.Year(), d.Month(), d.Day()), uuid.NewString()+strings.ToLower(ext))
}

func detectContentType(file *os.File, name string) (string, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	contentType := http.DetectContentType(buf[:n])
	if contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			contentType = byExt
		}
	}
	return contentType, nil
}
