package synchronizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/fileutils"
	"github.com/stupid-simple/pkgmirror/manifest"
)

type Action string

const (
	// ActionKept keeps the binding of an existing package.
	ActionKept Action = "kept"
	// ActionReused binds to content the file host already stores.
	ActionReused Action = "reused"
	// ActionDownloaded binds to freshly downloaded and stored content.
	ActionDownloaded Action = "downloaded"
	// ActionRejected leaves the package untouched, see Resolution.Reason.
	ActionRejected Action = "rejected"
)

// Resolution is the outcome of resolving one package version to a file id.
type Resolution struct {
	Action Action
	FileID string
	Reason error
}

func resolved(action Action, fileID string) Resolution {
	return Resolution{Action: action, FileID: fileID}
}

func rejected(reason error) Resolution {
	return Resolution{Action: ActionRejected, Reason: reason}
}

// ArtifactName is the name artifacts are stored under.
func ArtifactName(p manifest.Package, repoID string) string {
	return p.Name + "@" + p.Version + "@" + repoID + ".zip"
}

// resolve decides whether a package version needs a download. Errors are
// unexpected failures that abort the sync, expected conditions such as a
// hash mismatch are reported as a rejected resolution.
func (s *Synchronizer) resolve(ctx context.Context, repoID string, p manifest.Package, log zerolog.Logger) (Resolution, error) {
	declared, hasHash := p.DeclaredHash()
	if hasHash && !fileutils.ValidSHA256(declared) {
		return rejected(fmt.Errorf("%w: declared hash %q is not a SHA-256 digest", ErrHashMismatch, declared)), nil
	}
	if !hasHash {
		log.Warn().Msg("package declares no hash")
	}

	existing, err := s.db.GetPackage(ctx, p.Name, p.Version)
	if errors.Is(err, database.ErrNotFound) {
		return s.resolveNew(ctx, repoID, p, log)
	}
	if err != nil {
		return Resolution{}, err
	}

	ok, err := s.host.Exists(ctx, existing.FileID)
	if err != nil {
		return Resolution{}, err
	}
	switch {
	case !ok:
		log.Warn().Str("file_id", existing.FileID).Msg("stored file is missing, resolving again")
		return s.resolveNew(ctx, repoID, p, log)
	case !hasHash:
		log.Debug().Msg("package already stored, no hash to detect changes")
		return resolved(ActionKept, existing.FileID), nil
	case existing.ContentHash != nil && fileutils.SameHash(*existing.ContentHash, declared):
		log.Debug().Msg("package already stored with the same hash")
		return resolved(ActionKept, existing.FileID), nil
	}

	recorded := ""
	if existing.ContentHash != nil {
		recorded = *existing.ContentHash
	}
	log.Warn().Str("recorded", recorded).Str("declared", declared).Msg("upstream artifact changed, downloading again")
	return s.download(ctx, repoID, p, log)
}

func (s *Synchronizer) resolveNew(ctx context.Context, repoID string, p manifest.Package, log zerolog.Logger) (Resolution, error) {
	if declared, ok := p.DeclaredHash(); ok {
		fileID, found, err := s.host.LookupByHash(ctx, declared)
		if err != nil {
			return Resolution{}, err
		}
		if found {
			log.Info().Str("file_id", fileID).Msg("content already stored, skipping download")
			return resolved(ActionReused, fileID), nil
		}
	}
	return s.download(ctx, repoID, p, log)
}
