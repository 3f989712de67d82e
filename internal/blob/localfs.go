// Package blob stores uploaded recordings. The API writes uploads here and
// hands workers a source ref, so request bodies never ride on the queue.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store persists uploaded files addressed by an opaque ref.
type Store interface {
	Save(ctx context.Context, ref string, r io.Reader) (int64, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Remove(ctx context.Context, ref string) error
}

// LocalFS stores blobs as files under a root directory.
type LocalFS struct {
	root string
}

// NewLocalFS creates the root directory if needed.
func NewLocalFS(root string) (*LocalFS, error) {
	if root == "" {
		return nil, fmt.Errorf("blob storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob storage root: %w", err)
	}
	return &LocalFS{root: root}, nil
}

// path resolves a ref inside the root, rejecting refs that escape it.
func (s *LocalFS) path(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("blob ref is required")
	}
	cleaned := filepath.Clean(ref)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *LocalFS) Save(ctx context.Context, ref string, r io.Reader) (int64, error) {
	target, err := s.path(ref)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create blob file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(target)
		return 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close blob file: %w", err)
	}
	return n, nil
}

func (s *LocalFS) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	target, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %q not found", ref)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *LocalFS) Remove(ctx context.Context, ref string) error {
	target, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}
