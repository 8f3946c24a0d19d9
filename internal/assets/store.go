// Package assets mirrors binary assets (logos, thumbnails, gallery images)
// referenced by crawled pages onto the local filesystem.
package assets

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dkoval/servicecenter-crawler/internal/fetch"
	"github.com/dkoval/servicecenter-crawler/internal/metrics"
)

// Store writes assets under a base directory, keyed by their source path.
type Store struct {
	baseDir string
}

// NewStore creates the base directory if needed and verifies it is writable.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}

	probe := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &Store{baseDir: baseDir}, nil
}

// Mirror downloads the asset at ref unless a local copy already exists and
// returns the "parentDir/fileName" reference recorded on entities. The
// exists-then-write check is racy under concurrent duplicate downloads of the
// same asset; that is acceptable because both writers produce the same bytes.
func (s *Store) Mirror(ctx context.Context, fetcher fetch.Fetcher, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid asset ref %q: %w", ref, err)
	}
	srcPath := u.Path
	if srcPath == "" || strings.HasSuffix(srcPath, "/") {
		return "", fmt.Errorf("asset ref %q has no file path", ref)
	}

	localPath, err := s.localPath(srcPath)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(localPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat asset: %w", err)
		}
		body, err := fetcher.Download(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("download asset: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
			return "", fmt.Errorf("create asset directory: %w", err)
		}
		if err := os.WriteFile(localPath, body, 0o600); err != nil {
			return "", fmt.Errorf("write asset: %w", err)
		}
		metrics.AssetMirrored()
	}

	dir, file := path.Split(srcPath)
	return path.Join(path.Base(dir), file), nil
}

func (s *Store) localPath(srcPath string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(srcPath))

	cleanBase := filepath.Clean(s.baseDir)
	cleanFull := filepath.Clean(full)
	if !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("asset path escapes base directory")
	}
	return cleanFull, nil
}
