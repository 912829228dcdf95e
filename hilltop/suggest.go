package hilltop

import (
	"fmt"
	"sort"
	"strings"

	lev "github.com/agnivade/levenshtein"
)

// ServerError is a non-benign inline Error element from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "hilltop: server error: " + e.Message
}

// UnknownNameError reports a site or measurement the server does not
// know, with the closest known names attached.
type UnknownNameError struct {
	Kind        string // "site" or "measurement"
	Name        string
	Suggestions []string
}

func (e *UnknownNameError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("hilltop: unknown %s %q", e.Kind, e.Name)
	}
	return fmt.Sprintf("hilltop: unknown %s %q (did you mean %s?)", e.Kind, e.Name, strings.Join(e.Suggestions, ", "))
}

// nearestNames ranks candidates by edit distance to name and returns up
// to max within a distance bound that scales with the name length, so a
// short name never suggests wild rewrites.
func nearestNames(name string, candidates []string, max int) []string {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" || len(candidates) == 0 || max <= 0 {
		return nil
	}
	limit := len(target) / 3
	if limit < 2 {
		limit = 2
	}
	type scored struct {
		name string
		dist int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		d := lev.ComputeDistance(target, strings.ToLower(cand))
		if d > limit {
			continue
		}
		ranked = append(ranked, scored{name: cand, dist: d})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].dist != ranked[j].dist {
			return ranked[i].dist < ranked[j].dist
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.name
	}
	return out
}
