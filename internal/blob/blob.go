// Package blob stores raw document bytes. The location returned by Put is
// the object key inside the store; catalogs keep it as a weak reference.
package blob

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ObjectPath builds the key documents are uploaded under:
// documents/YYYY/MM/DD/<fingerprint prefix>/<base filename>.
// The fingerprint prefix keeps same-named uploads on one day apart.
func ObjectPath(now time.Time, fingerprint, filename string) string {
	prefix := fingerprint
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return path.Join("documents", now.UTC().Format("2006/01/02"), prefix, baseName(filename))
}

// baseName strips any directory components, including Windows separators.
func baseName(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}
