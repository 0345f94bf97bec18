package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage keeps proofs on disk under baseDir. It is meant for
// development: URL points at baseURL, which Handler can serve.
type LocalStorage struct {
	baseDir       string
	baseURL       string
	uploadTimeout time.Duration
}

type LocalOption func(*LocalStorage)

func WithLocalUploadTimeout(timeout time.Duration) LocalOption {
	return func(s *LocalStorage) {
		s.uploadTimeout = timeout
	}
}

// NewLocalStorage creates baseDir if needed.
func NewLocalStorage(baseDir, baseURL string, opts ...LocalOption) (*LocalStorage, error) {
	if baseDir == "" {
		return nil, ErrInvalidConfig
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToGetAbsolutePath, err)
	}
	if err := os.MkdirAll(absBaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateDirectory, err)
	}
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	s := &LocalStorage{baseDir: absBaseDir, baseURL: baseURL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save writes the upload to key, removing partial files on failure.
func (s *LocalStorage) Save(ctx context.Context, fh *multipart.FileHeader, key string) (*Proof, error) {
	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}
	if fh == nil {
		return nil, ErrNilFileHeader
	}

	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	absPath, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateDirectory, err)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToOpenFile, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateFile, err)
	}
	defer func() { _ = dst.Close() }()

	fail := func(err error) (*Proof, error) {
		_ = dst.Close()
		_ = os.Remove(absPath)
		return nil, err
	}

	var written int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			nw, writeErr := dst.Write(buf[:n])
			if writeErr != nil {
				return fail(fmt.Errorf("%w: %v", ErrFailedToWriteFile, writeErr))
			}
			written += int64(nw)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fail(fmt.Errorf("%w: %v", ErrFailedToReadFile, readErr))
		}
	}

	return describe(fh, key, written)
}

// URL returns the public address of a stored proof.
func (s *LocalStorage) URL(_ context.Context, key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	absPath, err := s.resolvePath(key)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absPath)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return s.baseURL + key, nil
}

// Handler serves stored proofs read-only.
func (s *LocalStorage) Handler() http.Handler {
	return http.FileServer(http.Dir(s.baseDir))
}

// resolvePath keeps every resolved path inside baseDir.
func (s *LocalStorage) resolvePath(key string) (string, error) {
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailedToGetAbsolutePath, err)
	}
	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, key)
	}
	return absPath, nil
}
