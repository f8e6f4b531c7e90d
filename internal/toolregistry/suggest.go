package toolregistry

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/sandboxrun/executor/internal/model"
)

// maxSuggestionDistance bounds how different a candidate path may be from
// the requested one before it's considered unrelated noise rather than a
// likely typo.
const maxSuggestionDistance = 6

// maxSuggestions caps how many candidates an "unknown tool" error surfaces.
const maxSuggestions = 3

// namespaceMatchBonus makes same-namespace candidates win ties against an
// equally-distant candidate from a different namespace — a typo within
// the caller's intended namespace is a likelier match than a coincidental
// string collision elsewhere.
const namespaceMatchBonus = 2

// Suggest returns up to maxSuggestions entry paths from entries that are
// plausible corrections for requestedPath, nearest first. It's used by the
// invocation pipeline to turn an "unknown tool" failure into a helpful
// error instead of a bare rejection.
func Suggest(requestedPath string, entries []*model.ToolRegistryEntry) []string {
	type scored struct {
		path string
		dist int
	}
	requested := strings.ToLower(requestedPath)
	requestedNS := namespace(requested)

	var candidates []scored
	for _, e := range entries {
		dist := levenshtein.ComputeDistance(requested, strings.ToLower(e.Path))
		for _, alias := range e.Aliases {
			if d := levenshtein.ComputeDistance(requested, strings.ToLower(alias)); d < dist {
				dist = d
			}
		}
		if e.Namespace == requestedNS {
			dist -= namespaceMatchBonus
		}
		if dist <= maxSuggestionDistance {
			candidates = append(candidates, scored{path: e.Path, dist: dist})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].path < candidates[j].path
	})

	out := make([]string, 0, maxSuggestions)
	seen := map[string]bool{}
	for _, c := range candidates {
		if seen[c.path] {
			continue
		}
		seen[c.path] = true
		out = append(out, c.path)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
