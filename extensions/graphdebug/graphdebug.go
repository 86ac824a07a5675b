// Package graphdebug renders a Store's dependency graph as an indented
// text tree, a port of the teacher's extensions/graph_debug.go concept
// (pumped-fn-pumped-go) generalized from a reactive-executor dependency
// graph keyed on resolved/failed executors to the Store's static
// resource/task DependsOn edges, and stripped of its treedrawer box-drawing
// dependency (see DESIGN.md) in favor of the plain indentation style that
// extension already falls back to in its own text handler.
package graphdebug

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pumped-fn/runner/internal/store"
)

// Render writes one line per record reachable from root, indented by
// depth, children sorted by id for deterministic output. A record already
// printed higher in the tree is printed again as a leaf annotated
// "(seen)" rather than walked a second time, the same cycle-safety
// graph_debug.go gets for free from its visited-executor map.
func Render(w io.Writer, st *store.Store, rootID string) error {
	seen := map[string]bool{}
	return render(w, st, rootID, 0, seen)
}

func render(w io.Writer, st *store.Store, id string, depth int, seen map[string]bool) error {
	rec, ok := st.Get(id)
	indent := strings.Repeat("  ", depth)
	if !ok {
		_, err := fmt.Fprintf(w, "%s%s (unresolved)\n", indent, id)
		return err
	}
	if seen[id] {
		_, err := fmt.Fprintf(w, "%s%s [%s] (seen)\n", indent, id, rec.Kind)
		return err
	}
	seen[id] = true

	if _, err := fmt.Fprintf(w, "%s%s [%s]\n", indent, id, rec.Kind); err != nil {
		return err
	}

	children := append([]string(nil), rec.DependsOn...)
	sort.Strings(children)
	for _, childID := range children {
		if err := render(w, st, childID, depth+1, seen); err != nil {
			return err
		}
	}
	return nil
}

// Summary renders a flat, kind-grouped line count, useful for a quick
// `runnerctl doctor` sanity check before the full tree dump.
func Summary(st *store.Store) map[store.Kind]int {
	counts := map[store.Kind]int{}
	for _, rec := range st.All() {
		counts[rec.Kind]++
	}
	return counts
}
