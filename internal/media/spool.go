package media

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Spool copies a multipart file part into dir and returns the local path.
// Parts larger than maxBytes are rejected with ErrTooLarge.
func Spool(fh *multipart.FileHeader, dir string, maxBytes int64) (string, error) {
	if fh == nil {
		return "", ErrNoFile
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return "", ErrTooLarge
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open part: %w", err)
	}
	defer src.Close()

	localPath := filepath.Join(dir, uuid.NewString()+safeExt(fh.Filename))
	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	var reader io.Reader = src
	if maxBytes > 0 {
		reader = io.LimitReader(src, maxBytes+1)
	}
	written, copyErr := io.Copy(dst, reader)
	closeErr := dst.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("write temp file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close temp file: %w", closeErr)
	case maxBytes > 0 && written > maxBytes:
		err = ErrTooLarge
	case written == 0:
		err = ErrNoFile
	}
	if err != nil {
		_ = os.Remove(localPath)
		return "", err
	}
	return localPath, nil
}

// Discard removes spooled files that will not be uploaded.
func Discard(paths ...string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
