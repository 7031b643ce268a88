package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// diskBackend lays namespaces out as one directory per identity under
// the root, each holding a single cache.json. Directory absence is
// equivalent to the unused state, and concurrent targets never contend
// on the same file.
type diskBackend struct {
	root string
}

const cacheFileName = "cache.json"

// identityDirRe matches the 8+ hex-char fingerprints used as directory
// names, so stray files under the root are never treated as namespaces.
var identityDirRe = regexp.MustCompile(`^[0-9a-f]{8,}$`)

type diskPayload struct {
	Updated time.Time                  `json:"updated"`
	Data    map[string]json.RawMessage `json:"data"`
}

func openDisk(root string) (*diskBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &diskBackend{root: root}, nil
}

func (d *diskBackend) path(identity string) string {
	return filepath.Join(d.root, identity, cacheFileName)
}

func (d *diskBackend) load(identity string) (map[string]json.RawMessage, error) {
	b, err := os.ReadFile(d.path(identity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p diskPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return p.Data, nil
}

func (d *diskBackend) save(identity string, data map[string]json.RawMessage, lastWrite time.Time) error {
	dir := filepath.Join(d.root, identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(diskPayload{Updated: lastWrite, Data: data})
	if err != nil {
		return err
	}

	// Write-then-rename keeps a crashed flush from corrupting the
	// previous snapshot.
	tmp := d.path(identity) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.path(identity))
}

func (d *diskBackend) remove(identity string) error {
	err := os.RemoveAll(filepath.Join(d.root, identity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (d *diskBackend) list() ([]Entry, error) {
	dirs, err := os.ReadDir(d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, de := range dirs {
		if !de.IsDir() || !identityDirRe.MatchString(de.Name()) {
			continue
		}
		e := Entry{Identity: de.Name()}
		b, err := os.ReadFile(d.path(de.Name()))
		if err != nil {
			// Directory exists but data is unreadable; report it with
			// zero bookkeeping so prune/clean can still collect it.
			out = append(out, e)
			continue
		}
		e.Bytes = int64(len(b))
		var p diskPayload
		if err := json.Unmarshal(b, &p); err == nil {
			e.LastWrite = p.Updated
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *diskBackend) close() error { return nil }
