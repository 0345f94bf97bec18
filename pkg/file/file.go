package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// MaxProofSize bounds an uploaded payment proof.
const MaxProofSize int64 = 10 << 20

// AllowedProofTypes are the content types accepted as payment proofs.
var AllowedProofTypes = []string{"image/jpeg", "image/png", "image/webp", "application/pdf"}

// Proof describes a stored payment proof. Key is the proof reference kept
// on the order.
type Proof struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
}

// Storage keeps proof files and hands out URLs the extractor can fetch.
// It satisfies validation.ProofLocator.
type Storage interface {
	Save(ctx context.Context, fh *multipart.FileHeader, key string) (*Proof, error)
	URL(ctx context.Context, key string) (string, error)
}

// ProofKey builds a content-addressed key under the order's prefix, so
// re-uploading the same file yields the same key.
func ProofKey(orderID string, fh *multipart.FileHeader) (string, error) {
	sum, err := Hash(fh, nil)
	if err != nil {
		return "", err
	}
	return path.Join("proofs", orderID, sum[:16]+strings.ToLower(GetExtension(fh))), nil
}

// CleanKey normalizes a storage key and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(key)), "/")
	if key == "" || strings.Contains(key, "..") || strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	return path.Clean(key), nil
}

// ValidateProof checks size and sniffed content type of an upload.
func ValidateProof(fh *multipart.FileHeader) error {
	if err := ValidateSize(fh, MaxProofSize); err != nil {
		return err
	}
	return ValidateMIMEType(fh, AllowedProofTypes...)
}

func GetExtension(fh *multipart.FileHeader) string {
	if fh == nil {
		return ""
	}
	return filepath.Ext(fh.Filename)
}

// GetMIMEType sniffs the first 512 bytes instead of trusting the extension.
func GetMIMEType(fh *multipart.FileHeader) (string, error) {
	if fh == nil {
		return "", ErrNilFileHeader
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailedToOpenFile, err)
	}
	defer func() { _ = f.Close() }()

	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("%w: %v", ErrFailedToReadFile, err)
	}
	return http.DetectContentType(buffer[:n]), nil
}

func ValidateSize(fh *multipart.FileHeader, maxBytes int64) error {
	if fh == nil {
		return ErrNilFileHeader
	}
	if fh.Size > maxBytes {
		return fmt.Errorf("file size %d bytes exceeds %d bytes limit: %w", fh.Size, maxBytes, ErrFileTooLarge)
	}
	return nil
}

// ValidateMIMEType passes when no types are given.
func ValidateMIMEType(fh *multipart.FileHeader, allowedTypes ...string) error {
	if fh == nil {
		return ErrNilFileHeader
	}
	if len(allowedTypes) == 0 {
		return nil
	}

	mimeType, err := GetMIMEType(fh)
	if err != nil {
		return err
	}
	if slices.Contains(allowedTypes, mimeType) {
		return nil
	}
	return fmt.Errorf("MIME type %s not in allowed types %v: %w", mimeType, allowedTypes, ErrMIMETypeNotAllowed)
}

// Hash returns the hex digest of the file; h defaults to SHA-256.
func Hash(fh *multipart.FileHeader, h hash.Hash) (string, error) {
	if fh == nil {
		return "", ErrNilFileHeader
	}
	if h == nil {
		h = sha256.New()
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailedToOpenFile, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailedToHashFile, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SanitizeFilename strips path components and NUL bytes.
//
//	file.SanitizeFilename("../../../etc/passwd") // "passwd"
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)
	filename = strings.ReplaceAll(filename, "\x00", "")

	if filename == "." || filename == ".." || filename == "" || filename == "/" {
		filename = "unnamed"
	}
	return filename
}

func describe(fh *multipart.FileHeader, key string, size int64) (*Proof, error) {
	mimeType, err := GetMIMEType(fh)
	if err != nil {
		mimeType = "application/octet-stream"
	}
	sum, err := Hash(fh, nil)
	if err != nil {
		return nil, err
	}
	return &Proof{
		Key:      key,
		Filename: SanitizeFilename(fh.Filename),
		Size:     size,
		MIMEType: mimeType,
		SHA256:   sum,
	}, nil
}
