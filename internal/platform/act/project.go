package act

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/forge-api/internal/domain"
)

// ErrProjectNotFound reports that no warehouse directory matches the
// requested project identity.
var ErrProjectNotFound = errors.New("project not found")

// ResolveProject locates a generated project directory under the warehouse.
// An explicit timestamp demands the exact directory; otherwise the newest
// match wins, first by name and organization, then by name alone.
func ResolveProject(warehouseDir, name, organization, timestamp string) (string, error) {
	org := organization
	if org == "" {
		org = domain.DefaultOrganization
	}

	if timestamp != "" {
		dirName := name + "_" + org + "_" + timestamp
		exact := filepath.Join(warehouseDir, dirName)
		info, err := os.Stat(exact)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrProjectNotFound, dirName)
		}
		return exact, nil
	}

	if dir := newestMatch(warehouseDir, name+"_"+org+"_"); dir != "" {
		return filepath.Join(warehouseDir, dir), nil
	}

	if dir := newestMatch(warehouseDir, name+"_"); dir != "" {
		return filepath.Join(warehouseDir, dir), nil
	}

	return "", fmt.Errorf("%w: %s", ErrProjectNotFound, name)
}

// newestMatch returns the lexicographically greatest directory entry with
// the given prefix; the timestamp suffix makes greatest mean newest.
func newestMatch(root, prefix string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	newest := ""
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if entry.Name() > newest {
			newest = entry.Name()
		}
	}
	return newest
}
