// Package integrity compares local files against an official checksum
// manifest. The hashing algorithm must match whatever produced the
// manifest; the checksum authority ships SHA-256 hex digests.
package integrity

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Result is the outcome of verifying one manifest entry.
type Result struct {
	Path     string
	Modified bool
	Missing  bool
}

// HashFile returns the SHA-256 hex digest of the file's content.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}

// PendingPaths returns the manifest's paths in a stable order, so that a
// verification pass interrupted mid-batch resumes deterministically.
func PendingPaths(manifest map[string]string) []string {
	paths := make([]string, 0, len(manifest))
	for p := range manifest {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// VerifyBatch checks up to limit pending paths against the manifest,
// returning the results and the paths still to verify. Missing files are
// reported; unreadable files count as modified (the scanner cannot prove
// them intact).
func VerifyBatch(root string, manifest map[string]string, pending []string, limit int) ([]Result, []string) {
	if limit <= 0 || limit > len(pending) {
		limit = len(pending)
	}

	var results []Result
	for _, rel := range pending[:limit] {
		full := filepath.Join(root, rel)

		if _, err := os.Stat(full); os.IsNotExist(err) {
			results = append(results, Result{Path: rel, Missing: true})
			continue
		}

		actual, err := HashFile(full)
		if err != nil || actual != manifest[rel] {
			results = append(results, Result{Path: rel, Modified: true})
		}
	}
	return results, pending[limit:]
}
