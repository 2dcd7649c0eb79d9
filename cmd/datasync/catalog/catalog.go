package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/lyzr/datasync/cmd/datasync/models"
)

// file is the on-disk shape of the catalog:
//
//	prefix = "ri.foundry.main.dataset."
//	[datasets]
//	"Alpha" = "alpha-id"
type file struct {
	Prefix   string            `toml:"prefix"`
	Datasets map[string]string `toml:"datasets"`
}

// Catalog resolves dataset names to remote identities
type Catalog struct {
	mu       sync.RWMutex
	prefix   string
	datasets map[string]string
}

// Load reads the catalog from a TOML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(string(data))
}

// Parse decodes a TOML catalog document
func Parse(doc string) (*Catalog, error) {
	var f file
	if _, err := toml.Decode(doc, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c := New(f.Prefix)
	for name, rid := range f.Datasets {
		if strings.TrimSpace(rid) == "" {
			return nil, fmt.Errorf("catalog entry %q has no rid", name)
		}
		c.datasets[name] = rid
	}
	return c, nil
}

// New creates an empty catalog with the given table prefix
func New(prefix string) *Catalog {
	return &Catalog{prefix: prefix, datasets: make(map[string]string)}
}

// Add registers name -> rid
func (c *Catalog) Add(name, rid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[name] = rid
}

// Prefix returns the remote table prefix
func (c *Catalog) Prefix() string {
	return c.prefix
}

// Resolve maps names to identities. Unknown names are returned in missing,
// in request order. Duplicate names resolve once.
func (c *Catalog) Resolve(names []string) (ids []models.Identity, missing []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		rid, ok := c.datasets[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		ids = append(ids, models.Identity{Name: name, ExternalID: rid})
	}
	return ids, missing
}

// Names returns every known dataset name, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
