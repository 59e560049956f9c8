// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Index is a parsed, normalized registry index. It is immutable after
// ParseIndex and safe for concurrent readers.
type Index struct {
	// Version and Updated echo the index envelope.
	Version string
	Updated string
	// Categories passes through untouched for re-publication.
	Categories json.RawMessage

	modules map[string]ModuleInfo
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.modules) }

// Lookup returns the entry for the exact module name.
func (idx *Index) Lookup(name string) (ModuleInfo, bool) {
	info, ok := idx.modules[name]
	return info, ok
}

// All returns every entry in ascending name order.
func (idx *Index) All() []ModuleInfo {
	out := make([]ModuleInfo, 0, len(idx.modules))
	for _, name := range slices.Sorted(maps.Keys(idx.modules)) {
		out = append(out, idx.modules[name])
	}
	return out
}

// SearchResult pairs an entry with its relevance score.
type SearchResult struct {
	ModuleInfo
	Score int
}

// Relevance weights. Name matches dominate; description and keyword hits
// break ties between otherwise similar entries.
const (
	scoreNameExact     = 100
	scoreNamePrefix    = 50
	scoreNameSubstring = 25
	scoreKeywordMatch  = 15
	scoreDescribedTerm = 10
)

// Search ranks entries against a free-text query. Matching is
// case-insensitive. Results order by descending score, then ascending name,
// so equal inputs always produce equal output. An empty query returns every
// entry unranked in name order.
func (idx *Index) Search(query string) []SearchResult {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		all := idx.All()
		results := make([]SearchResult, len(all))
		for i, info := range all {
			results[i] = SearchResult{ModuleInfo: info}
		}
		return results
	}

	terms := strings.Fields(query)
	var results []SearchResult
	for _, info := range idx.modules {
		if score := relevance(info, query, terms); score > 0 {
			results = append(results, SearchResult{ModuleInfo: info, Score: score})
		}
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return strings.Compare(a.Name, b.Name)
	})
	return results
}

func relevance(info ModuleInfo, query string, terms []string) int {
	name := strings.ToLower(info.Name)
	score := 0
	switch {
	case name == query:
		score += scoreNameExact
	case strings.HasPrefix(name, query):
		score += scoreNamePrefix
	case strings.Contains(name, query):
		score += scoreNameSubstring
	}

	desc := strings.ToLower(info.Description)
	for _, term := range terms {
		if strings.Contains(desc, term) {
			score += scoreDescribedTerm
		}
	}
	for _, keyword := range info.Keywords {
		keyword = strings.ToLower(keyword)
		for _, term := range terms {
			if keyword == term {
				score += scoreKeywordMatch
				break
			}
		}
	}
	return score
}
