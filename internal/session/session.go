// Package session tracks one in-flight search: which workers are still
// owed results, the items accumulated so far, and the final ranked vector
// with its dense global id space.
package session

import (
	"sort"
	"strings"

	"github.com/pop-os/launcher/internal/protocol"
)

// Result caps. Path-navigation queries get depth, everything else stays
// shallow for the frontend's short list.
const (
	defaultLimit = 8
	pathLimit    = 100
)

// Ref identifies the plugin-local origin of an emitted search result.
type Ref struct {
	Plugin int
	Local  protocol.Indice
}

type item struct {
	plugin int
	meta   protocol.PluginSearchResult
}

// Session is the state machine between a Search request and the moment
// every selected worker has finished. It belongs to the service loop and is
// never shared.
type Session struct {
	generation uint64
	query      string
	selected   []int
	pending    map[int]struct{}
	noSort     map[int]bool
	items      []item
}

// New begins a session for a query at the given generation. selected lists
// the worker ids the query fanned out to, in selection order; noSort flags
// the workers whose results bypass ranking.
func New(generation uint64, query string, selected []int, noSort map[int]bool) *Session {
	pending := make(map[int]struct{}, len(selected))
	for _, id := range selected {
		pending[id] = struct{}{}
	}

	return &Session{
		generation: generation,
		query:      query,
		selected:   append([]int(nil), selected...),
		pending:    pending,
		noSort:     noSort,
	}
}

// Generation returns the generation this session is bound to.
func (s *Session) Generation() uint64 {
	return s.generation
}

// Query returns the search text.
func (s *Session) Query() string {
	return s.query
}

// Append accepts one streamed item from a worker.
func (s *Session) Append(plugin int, meta protocol.PluginSearchResult) {
	s.items = append(s.items, item{plugin: plugin, meta: meta})
}

// Clear drops every item accepted so far, from any worker. Subsequent
// appends resume global numbering from zero.
func (s *Session) Clear() {
	s.items = s.items[:0]
}

// Finish marks one worker as done for this session, whether it emitted
// Finished, died, or failed to spawn. Idempotent.
func (s *Session) Finish(plugin int) {
	delete(s.pending, plugin)
}

// Awaiting reports whether the worker still owes this session a Finished.
func (s *Session) Awaiting(plugin int) bool {
	_, ok := s.pending[plugin]
	return ok
}

// Done reports whether every selected worker has finished.
func (s *Session) Done() bool {
	return len(s.pending) == 0
}

// Results computes the final vector delivered to the frontend and the
// plugin-local origin of each entry, indexed by global id.
//
// Ordering: items from no_sort plugins come first, grouped in selection
// order and keeping their emission order. The rest are ranked by a
// case-insensitive two-tier comparator: names containing the query beat
// names that do not, then lexicographic on the lowercased name. The sort is
// stable, so equal keys keep arrival order. The vector is truncated to the
// result cap, then global ids are assigned densely from zero.
func (s *Session) Results(categoryIcon func(plugin int) *protocol.IconSource) ([]protocol.SearchResult, []Ref) {
	var front, ranked []item
	for _, id := range s.selected {
		if !s.noSort[id] {
			continue
		}
		for _, it := range s.items {
			if it.plugin == id {
				front = append(front, it)
			}
		}
	}
	for _, it := range s.items {
		if !s.noSort[it.plugin] {
			ranked = append(ranked, it)
		}
	}

	query := strings.ToLower(s.query)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Less(ranked[i].meta.Name, ranked[j].meta.Name, query)
	})

	final := append(front, ranked...)

	limit := defaultLimit
	if strings.HasPrefix(s.query, "/") || strings.HasPrefix(s.query, "~") {
		limit = pathLimit
	}
	if len(final) > limit {
		final = final[:limit]
	}

	results := make([]protocol.SearchResult, 0, len(final))
	refs := make([]Ref, 0, len(final))

	for id, it := range final {
		results = append(results, protocol.SearchResult{
			ID:           protocol.Indice(id),
			Name:         it.meta.Name,
			Description:  it.meta.Description,
			Icon:         it.meta.Icon,
			CategoryIcon: categoryIcon(it.plugin),
			Window:       it.meta.Window,
		})
		refs = append(refs, Ref{Plugin: it.plugin, Local: it.meta.ID})
	}

	return results, refs
}

// Less is the ranking comparator: a strict weak ordering over item names
// for a lowercased query. Containment of the query dominates; lowercased
// lexicographic order breaks ties within a tier.
func Less(a, b, query string) bool {
	al := strings.ToLower(a)
	bl := strings.ToLower(b)

	ac := strings.Contains(al, query)
	bc := strings.Contains(bl, query)
	if ac != bc {
		return ac
	}
	return al < bl
}
