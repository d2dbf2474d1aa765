// Package catalog serves the external product list used to fill in item
// names and prices by code.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"

	"worksafe/internal/domain"
)

type Feed struct {
	path string

	mu      sync.RWMutex
	entries []domain.CatalogEntry
	byNo    *cache.Cache
}

type file struct {
	Items []domain.CatalogEntry `yaml:"items"`
}

// Load reads a YAML feed of the form `items: [{no, name, price}]`. Lookups
// are cached for ttl; zero keeps them until Reload.
func Load(path string, ttl time.Duration) (*Feed, error) {
	f := &Feed{path: path, byNo: newCache(ttl)}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// FromEntries builds a feed from memory.
func FromEntries(entries []domain.CatalogEntry, ttl time.Duration) *Feed {
	f := &Feed{byNo: newCache(ttl)}
	f.set(entries)
	return f
}

func newCache(ttl time.Duration) *cache.Cache {
	if ttl <= 0 {
		return cache.New(cache.NoExpiration, 0)
	}
	return cache.New(ttl, 2*ttl)
}

// Reload re-reads the feed file and drops cached lookups.
func (f *Feed) Reload() error {
	if f.path == "" {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", f.path, err)
	}
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid catalog yaml: %w", err)
	}
	f.set(doc.Items)
	return nil
}

func (f *Feed) set(entries []domain.CatalogEntry) {
	cleaned := make([]domain.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		e.No = domain.NormalizeItemNo(e.No)
		if e.No == "" {
			continue
		}
		cleaned = append(cleaned, e)
	}
	f.mu.Lock()
	f.entries = cleaned
	f.mu.Unlock()
	f.byNo.Flush()
}

// Lookup finds an entry by item code, case-insensitively.
func (f *Feed) Lookup(no string) (domain.CatalogEntry, bool) {
	no = domain.NormalizeItemNo(no)
	if v, ok := f.byNo.Get(no); ok {
		e, found := v.(domain.CatalogEntry)
		return e, found
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.entries {
		if e.No == no {
			f.byNo.SetDefault(no, e)
			return e, true
		}
	}
	f.byNo.SetDefault(no, false)
	return domain.CatalogEntry{}, false
}

// Search returns entries whose code starts with q or whose name contains it.
func (f *Feed) Search(q string, limit int) []domain.CatalogEntry {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	upper := strings.ToUpper(q)
	f.mu.RLock()
	defer f.mu.RUnlock()
	var res []domain.CatalogEntry
	for _, e := range f.entries {
		if strings.HasPrefix(e.No, upper) || strings.Contains(e.Name, q) {
			res = append(res, e)
			if limit > 0 && len(res) == limit {
				break
			}
		}
	}
	return res
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
