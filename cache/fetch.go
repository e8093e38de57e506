package cache

import (
	"context"
	"fmt"
	"sort"

	"github.com/meigma/narmirror/closure"
	"github.com/meigma/narmirror/fetch"
	"github.com/meigma/narmirror/narinfo"
)

// Archive is an archive referenced by a closure entry.
type Archive struct {
	// Name is the store-relative name, "nar/<file>".
	Name string

	// URL is the archive location as recorded in the metadata.
	URL string

	// FileHash is the declared "algorithm:digest" of the archive file.
	FileHash string

	// Label names the store path the archive belongs to.
	Label string
}

// Archives lists the distinct archives referenced by set, sorted by name.
// Entries without an archive URL are skipped.
func Archives(set closure.Set) []Archive {
	seen := make(map[string]bool)
	var archives []Archive
	for _, e := range set {
		name := ArchiveName(e.Record)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		archives = append(archives, Archive{
			Name:     name,
			URL:      e.Record.URL,
			FileHash: e.Record.FileHash,
			Label:    e.ID.String(),
		})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].Name < archives[j].Name })
	return archives
}

// FetchMissing downloads every archive of set that is not yet in the store.
// Archives with an unparseable FileHash are reported as failures without a
// download attempt. Per-archive failures are collected in the report.
func (s *Store) FetchMissing(ctx context.Context, f *fetch.Fetcher, set closure.Set) *fetch.Report {
	// rejected carries archives that never reach the pool.
	rejected := &fetch.Report{}
	var items []fetch.Item
	for _, a := range Archives(set) {
		if s.Exists(a.Name) {
			rejected.Skipped++
			continue
		}
		item := fetch.Item{
			Locator: a.URL,
			Dest:    s.Path(a.Name),
			Label:   a.Label,
		}
		hash, err := narinfo.ParseHash(a.FileHash)
		if err != nil {
			err = fmt.Errorf("cache: %s: FileHash: %w", a.Name, err)
			s.log().Warn("skipping archive", "url", a.URL, "error", err)
			rejected.Fail(item, err)
			continue
		}
		item.Hash = hash
		items = append(items, item)
	}

	s.log().Info("fetching archives", "missing", len(items))
	report := f.FetchAll(ctx, items)
	report.Merge(rejected)
	return report
}
