package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/fileutils"
	"github.com/stupid-simple/pkgmirror/manifest"
)

// download fetches the artifact to a temporary file, verifies it against the
// declared hash and stores it unless the same content is already stored.
func (s *Synchronizer) download(ctx context.Context, repoID string, p manifest.Package, log zerolog.Logger) (res Resolution, err error) {
	tmp, err := os.CreateTemp(s.tempDir, "artifact-*.zip")
	if err != nil {
		return Resolution{}, err
	}
	defer func() {
		err = errors.Join(err, removeIfExists(tmp.Name()))
	}()

	log.Info().Str("url", p.URL).Msg("downloading artifact")
	computed, size, err := s.fetchTo(ctx, p.URL, tmp)
	err = errors.Join(err, tmp.Close())
	if err != nil {
		return Resolution{}, err
	}
	log.Info().
		Str("size", units.HumanSize(float64(size))).
		Str("hash", computed).
		Msg("downloaded artifact")

	if declared, ok := p.DeclaredHash(); ok && !fileutils.SameHash(declared, computed) {
		return rejected(fmt.Errorf("%w: declared %s, downloaded %s", ErrHashMismatch, declared, computed)), nil
	}

	fileID, found, err := s.host.LookupByHash(ctx, computed)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		log.Info().Str("file_id", fileID).Msg("downloaded content already stored")
		return resolved(ActionReused, fileID), nil
	}

	fileID, err = s.host.Put(ctx, tmp.Name(), ArtifactName(p, repoID))
	if err != nil {
		return Resolution{}, fmt.Errorf("could not store artifact: %w", err)
	}
	log.Info().Str("file_id", fileID).Msg("stored artifact")
	return resolved(ActionDownloaded, fileID), nil
}

// fetchTo streams url into w and returns the SHA-256 and size of the body.
func (s *Synchronizer) fetchTo(ctx context.Context, url string, w io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download %s failed: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("download %s failed: unexpected status %s", url, resp.Status)
	}
	if s.maxSize > 0 && resp.ContentLength > s.maxSize {
		return "", 0, fmt.Errorf("%w: %s is %s, limit %s", ErrArtifactTooLarge, url,
			units.HumanSize(float64(resp.ContentLength)), units.HumanSize(float64(s.maxSize)))
	}

	var body io.Reader = resp.Body
	if s.maxSize > 0 {
		body = io.LimitReader(resp.Body, s.maxSize+1)
	}

	digester := digest.SHA256.Digester()
	n, err := io.Copy(io.MultiWriter(w, digester.Hash()), body)
	if err != nil {
		return "", n, fmt.Errorf("download %s failed: %w", url, err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return "", n, fmt.Errorf("%w: %s exceeds %s", ErrArtifactTooLarge, url, units.HumanSize(float64(s.maxSize)))
	}
	return digester.Digest().Encoded(), n, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
