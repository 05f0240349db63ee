package filehost

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/fileutils"
)

// LocalHost stores blobs on disk at {root}/{hash}/{name}. File ids are
// "{hash}/{name}".
type LocalHost struct {
	root    string
	baseURL *url.URL
	logger  zerolog.Logger
}

var _ FileHost = (*LocalHost)(nil)

func NewLocalHost(root, baseURL string, logger zerolog.Logger) (*LocalHost, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if err := fileutils.EnsureWritableDir(root); err != nil {
		return nil, err
	}
	return &LocalHost{root: root, baseURL: u, logger: logger}, nil
}

func (h *LocalHost) Put(ctx context.Context, sourcePath, name string) (string, error) {
	hash, err := fileutils.SHA256File(sourcePath)
	if err != nil {
		return "", err
	}

	if fileID, ok, err := h.LookupByHash(ctx, hash); err != nil || ok {
		return fileID, err
	}

	dir := filepath.Join(h.root, hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name = safeName(name)
	if err := fileutils.CopyFileAtomic(sourcePath, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("could not store %s: %w", name, err)
	}

	fileID := path.Join(hash, name)
	h.logger.Debug().Str("file_id", fileID).Msg("stored file")
	return fileID, nil
}

func (h *LocalHost) ResolveURI(ctx context.Context, fileID string) (string, error) {
	ok, err := h.Exists(ctx, fileID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	hash, name, _ := strings.Cut(fileID, "/")
	return h.baseURL.JoinPath(hash, name).String(), nil
}

func (h *LocalHost) LookupByHash(_ context.Context, hash string) (string, bool, error) {
	hash = fileutils.NormalizeHash(hash)
	if !fileutils.ValidSHA256(hash) {
		return "", false, nil
	}

	entries, err := os.ReadDir(filepath.Join(h.root, hash))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".tmp-") {
			return path.Join(hash, e.Name()), true, nil
		}
	}
	return "", false, nil
}

func (h *LocalHost) Exists(_ context.Context, fileID string) (bool, error) {
	p, ok := h.pathOf(fileID)
	if !ok {
		return false, nil
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (h *LocalHost) pathOf(fileID string) (string, bool) {
	hash, name, ok := strings.Cut(fileID, "/")
	if !ok || !fileutils.ValidSHA256(hash) || name == "" || name != safeName(name) {
		return "", false
	}
	return filepath.Join(h.root, hash, name), true
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
