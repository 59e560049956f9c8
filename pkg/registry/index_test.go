// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"testing"
)

func searchFixture(t *testing.T) *Index {
	t.Helper()
	idx, err := ParseIndex([]byte(`{
		"modules": {
			"memory": {
				"identity": {"name": "memory", "version": "1.0.0"},
				"metadata": {"description": "Core memory module", "keywords": ["recall"]}
			},
			"memory-bank": {
				"identity": {"name": "memory-bank", "version": "1.2.0"},
				"metadata": {"description": "Persistent memory layers", "keywords": ["memory", "storage"]}
			},
			"workflow": {
				"identity": {"name": "workflow", "version": "0.3.0"},
				"metadata": {"description": "Orchestration with memory checkpoints"}
			},
			"planner": {
				"identity": {"name": "planner", "version": "0.9.0"},
				"metadata": {"description": "Task planning", "keywords": ["memory"]}
			}
		}
	}`))
	if err != nil {
		t.Fatalf("parsing fixture index: %v", err)
	}
	return idx
}

func TestSearch_Ranking(t *testing.T) {
	t.Parallel()

	idx := searchFixture(t)
	results := idx.Search("memory")
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	// Exact name match outranks prefix, prefix outranks keyword and
	// description hits.
	wantOrder := []string{"memory", "memory-bank", "planner", "workflow"}
	for i, want := range wantOrder {
		if results[i].Name != want {
			t.Errorf("result[%d]: got %q, want %q", i, results[i].Name, want)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("result[%d] score %d exceeds result[%d] score %d",
				i, results[i].Score, i-1, results[i-1].Score)
		}
	}
}

func TestSearch_CaseInsensitive(t *testing.T) {
	t.Parallel()

	idx := searchFixture(t)
	lower := idx.Search("memory")
	upper := idx.Search("MEMORY")
	if len(lower) != len(upper) {
		t.Fatalf("case changed result count: %d vs %d", len(lower), len(upper))
	}
	for i := range lower {
		if lower[i].Name != upper[i].Name || lower[i].Score != upper[i].Score {
			t.Errorf("result[%d] differs across case: %v vs %v", i, lower[i], upper[i])
		}
	}
}

func TestSearch_TiesBreakByName(t *testing.T) {
	t.Parallel()

	idx, err := ParseIndex([]byte(`{
		"modules": {
			"zeta": {
				"identity": {"name": "zeta", "version": "1.0.0"},
				"metadata": {"description": "streaming helper"}
			},
			"alpha": {
				"identity": {"name": "alpha", "version": "1.0.0"},
				"metadata": {"description": "streaming helper"}
			}
		}
	}`))
	if err != nil {
		t.Fatalf("parsing index: %v", err)
	}

	results := idx.Search("streaming")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "alpha" || results[1].Name != "zeta" {
		t.Errorf("equal scores should order by name, got %q then %q", results[0].Name, results[1].Name)
	}
	if results[0].Score != results[1].Score {
		t.Errorf("expected equal scores, got %d and %d", results[0].Score, results[1].Score)
	}
}

func TestSearch_EmptyQueryReturnsAll(t *testing.T) {
	t.Parallel()

	idx := searchFixture(t)
	results := idx.Search("   ")
	if len(results) != idx.Len() {
		t.Fatalf("expected %d results, got %d", idx.Len(), len(results))
	}
	wantOrder := []string{"memory", "memory-bank", "planner", "workflow"}
	for i, want := range wantOrder {
		if results[i].Name != want {
			t.Errorf("result[%d]: got %q, want %q", i, results[i].Name, want)
		}
		if results[i].Score != 0 {
			t.Errorf("result[%d]: empty query should not rank, got score %d", i, results[i].Score)
		}
	}
}

func TestSearch_NoMatches(t *testing.T) {
	t.Parallel()

	idx := searchFixture(t)
	if results := idx.Search("nonexistent-thing"); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestAll_SortedByName(t *testing.T) {
	t.Parallel()

	idx := searchFixture(t)
	all := idx.All()
	if len(all) != 4 {
		t.Fatalf("expected 4 modules, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("modules out of order: %q before %q", all[i-1].Name, all[i].Name)
		}
	}
}

func TestLookup_Missing(t *testing.T) {
	t.Parallel()

	idx := searchFixture(t)
	if _, ok := idx.Lookup("absent"); ok {
		t.Error("lookup of absent module should report not found")
	}
}
