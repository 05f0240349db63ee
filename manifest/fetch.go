package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxManifestSize = 64 << 20

var errNoPackages = errors.New("listing has no packages field")

// Fetch downloads and decodes the listing at url.
func Fetch(ctx context.Context, client *http.Client, url string) (*Repo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return Decode(io.LimitReader(resp.Body, maxManifestSize))
}

// Decode reads a listing. Unknown fields are ignored.
func Decode(r io.Reader) (*Repo, error) {
	repo := &Repo{}
	if err := json.NewDecoder(r).Decode(repo); err != nil {
		return nil, fmt.Errorf("malformed listing: %w", err)
	}
	if repo.Packages == nil {
		return nil, errNoPackages
	}
	for name, versions := range repo.Packages {
		for v, pkg := range versions.Versions {
			if pkg.Name == "" || pkg.Version == "" || pkg.URL == "" {
				return nil, fmt.Errorf("malformed listing: package %s@%s lacks name, version or url", name, v)
			}
		}
	}
	return repo, nil
}
