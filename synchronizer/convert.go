package synchronizer

import (
	"bytes"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/manifest"
)

func toPackage(p manifest.Package, repoID, originRepoID, fileID string) database.Package {
	pkg := database.Package{
		Name:         p.Name,
		Version:      p.Version,
		RepoID:       repoID,
		OriginRepoID: originRepoID,
		DisplayName:  p.DisplayName,
		Description:  p.Description,
		UnityVersion: p.Unity,
		UnityRelease: p.UnityRelease,
		URL:          p.URL,
		LocalPath:    p.LocalPath,
		License:      p.License,
		ChangelogURL: p.ChangelogURL,
		VpmID:        p.ID,
		HideInEditor: p.HideInEditor,

		LegacyPackages:  rawJSON(p.LegacyPackages),
		LegacyFolders:   rawJSON(p.LegacyFolders),
		LegacyFiles:     rawJSON(p.LegacyFiles),
		Dependencies:    rawJSON(p.Dependencies),
		GitDependencies: rawJSON(p.GitDependencies),
		VpmDependencies: rawJSON(p.VpmDependencies),
		Keywords:        rawJSON(p.Keywords),
		Samples:         rawJSON(p.Samples),
		Headers:         rawJSON(p.Headers),

		FileID: fileID,
	}
	if p.Author != nil {
		pkg.AuthorName = &p.Author.Name
		pkg.AuthorEmail = p.Author.Email
		pkg.AuthorURL = p.Author.URL
	}
	if h, ok := p.DeclaredHash(); ok {
		pkg.ContentHash = &h
	}
	return pkg
}

func rawJSON(m json.RawMessage) datatypes.JSON {
	m = bytes.TrimSpace(m)
	if len(m) == 0 || bytes.Equal(m, []byte("null")) {
		return nil
	}
	return datatypes.JSON(m)
}
