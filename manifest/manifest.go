// Package manifest decodes upstream VPM repository listings.
package manifest

import (
	"encoding/json"
	"iter"
	"maps"
	"slices"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/fileutils"
)

// Repo is an upstream listing. Packages are grouped by name then version.
type Repo struct {
	Name     string              `json:"name"`
	Author   string              `json:"author"`
	URL      string              `json:"url"`
	ID       *string             `json:"id"`
	Packages map[string]Versions `json:"packages"`
}

type Versions struct {
	Versions map[string]Package `json:"versions"`
}

// Package is one package version. Optional fields are nil when the listing
// does not declare them, structured fields are kept verbatim.
type Package struct {
	Name            string          `json:"name"`
	DisplayName     *string         `json:"displayName"`
	Version         string          `json:"version"`
	Unity           *string         `json:"unity"`
	UnityRelease    *string         `json:"unityRelease"`
	Description     *string         `json:"description"`
	URL             string          `json:"url"`
	LocalPath       *string         `json:"localPath"`
	Author          *Author         `json:"author"`
	ZipSHA256       *string         `json:"zipSHA256"`
	LegacyPackages  json.RawMessage `json:"legacyPackages"`
	LegacyFolders   json.RawMessage `json:"legacyFolders"`
	LegacyFiles     json.RawMessage `json:"legacyFiles"`
	ChangelogURL    *string         `json:"changelogUrl"`
	Dependencies    json.RawMessage `json:"dependencies"`
	GitDependencies json.RawMessage `json:"gitDependencies"`
	VpmDependencies json.RawMessage `json:"vpmDependencies"`
	HideInEditor    *bool           `json:"hideInEditor"`
	Keywords        json.RawMessage `json:"keywords"`
	License         *string         `json:"license"`
	Samples         json.RawMessage `json:"samples"`
	Headers         json.RawMessage `json:"headers"`
	ID              *string         `json:"id"`
}

func (p Package) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", p.Name)
	e.Str("version", p.Version)
	e.Str("url", p.URL)
	if h, ok := p.DeclaredHash(); ok {
		e.Str("hash", h)
	}
}

// Key identifies the package version across repos.
func (p Package) Key() string {
	return p.Name + "@" + p.Version
}

// DeclaredHash returns the normalized upstream SHA-256. An absent field is
// reported as not declared, an empty or blank one is returned as "".
func (p Package) DeclaredHash() (string, bool) {
	if p.ZipSHA256 == nil {
		return "", false
	}
	return fileutils.NormalizeHash(*p.ZipSHA256), true
}

// Author is either a plain name or an object in listings.
type Author struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
	URL   *string `json:"url,omitempty"`
}

func (a *Author) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = Author{Name: name}
		return nil
	}

	type author Author
	var obj author
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*a = Author(obj)
	return nil
}

// All yields every package version, ordered by name then version key.
func (r *Repo) All() iter.Seq[Package] {
	return func(yield func(Package) bool) {
		for _, name := range slices.Sorted(maps.Keys(r.Packages)) {
			versions := r.Packages[name].Versions
			for _, v := range slices.Sorted(maps.Keys(versions)) {
				if !yield(versions[v]) {
					return
				}
			}
		}
	}
}

// Count returns the number of package versions.
func (r *Repo) Count() int {
	n := 0
	for _, v := range r.Packages {
		n += len(v.Versions)
	}
	return n
}

func (r Repo) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", r.Name)
	e.Str("url", r.URL)
	if r.ID != nil {
		e.Str("id", *r.ID)
	}
	e.Int("packages", r.Count())
}
