package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"reservoir-data/lib/textutil"
)

// Store persists Documents under Dir as <year>/<sanitized dam name>.json.
type Store struct {
	Dir string
}

func (s Store) Path(year, dam string) string {
	return filepath.Join(s.Dir, year, textutil.SanitizeFilename(dam)+".json")
}

// Load reads the document of (year, dam). A missing file, a file that is not
// valid JSON or JSON that is not a site object yields an empty document. A
// document with a site that cannot be read is an error, it is left as is.
func (s Store) Load(ctx context.Context, year, dam string) (Document, error) {
	path := s.Path(year, dam)
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Document{}, nil
	}
	if err != nil {
		return nil, err
	}

	if !json.Valid(contents) {
		slog.WarnContext(ctx, "existing document is not valid json, starting over", "path", path)
		return Document{}, nil
	}
	doc, err := DecodeDocument(contents)
	if errors.Is(err, ErrNotDocument) {
		slog.WarnContext(ctx, "existing document holds no sites, starting over", "path", path, "err", err)
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// Save writes doc for (year, dam), replacing any previous file atomically.
func (s Store) Save(year, dam string, doc Document) (string, error) {
	path := s.Path(year, dam)
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", err
	}

	contents, err := doc.Encode()
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".*.json.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(contents)
	if err != nil {
		tmp.Close()
		return "", err
	}
	err = tmp.Close()
	if err != nil {
		return "", err
	}
	err = os.Chmod(tmp.Name(), 0644)
	if err != nil {
		return "", err
	}
	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return "", err
	}
	return path, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge merges each document of tree into its persisted counterpart and
// returns the paths written. A failure on one document does not stop the
// others, all failures are returned joined.
func (s Store) Merge(ctx context.Context, tree Tree) ([]string, error) {
	var written []string
	var errs []error

	for _, year := range sortedKeys(tree) {
		dams := tree[year]
		for _, dam := range sortedKeys(dams) {
			existing, err := s.Load(ctx, year, dam)
			if err != nil {
				errs = append(errs, fmt.Errorf("load %s/%s: %w", year, dam, err))
				continue
			}
			existing.Merge(dams[dam])

			path, err := s.Save(year, dam, existing)
			if err != nil {
				errs = append(errs, fmt.Errorf("save %s/%s: %w", year, dam, err))
				continue
			}
			slog.InfoContext(ctx, "saved json", "path", path)
			written = append(written, path)
		}
	}

	return written, errors.Join(errs...)
}
