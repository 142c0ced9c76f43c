package rules

import "fmt"

// Expansion is the result of expanding a matched-rule set over the
// relationship graph.
type Expansion struct {
	// Rules is the final set: initial plus implied/depended-on rules,
	// minus every excluded rule.
	Rules []MatchedRule

	// Added lists the IDs pulled in by traversal, in discovery order.
	Added []string

	// Excluded lists the IDs removed by EXCLUDES edges.
	Excluded []string
}

// Expander computes depth-bounded closures over rule relationships.
type Expander struct {
	// MaxDepth bounds how many DEPENDS_ON/IMPLIES hops are followed from
	// the initial set.
	MaxDepth int
}

// NewExpander creates an Expander with the given traversal depth bound.
func NewExpander(maxDepth int) *Expander {
	return &Expander{MaxDepth: maxDepth}
}

// Expand grows the initial matched set along DEPENDS_ON and IMPLIES edges
// breadth-first, bounded by MaxDepth, then subtracts everything reachable
// via an EXCLUDES edge from the original or expanded set. Exclusion wins
// even when the excluded rule is also reachable through a followed edge.
// A visited set keyed by rule ID guarantees termination on cycles.
//
// catalog maps rule ID to the full rule; targets missing from it, or
// disabled, are never added.
func (e *Expander) Expand(initial []MatchedRule, catalog map[string]Rule, rels []Relationship) Expansion {
	adjacency := make(map[string][]Relationship, len(rels))
	for _, rel := range rels {
		adjacency[rel.SourceID] = append(adjacency[rel.SourceID], rel)
	}

	type queued struct {
		id    string
		depth int
	}

	result := make([]MatchedRule, 0, len(initial))
	visited := make(map[string]bool, len(initial))
	queue := make([]queued, 0, len(initial))
	for _, m := range initial {
		if visited[m.Rule.ID] {
			continue
		}
		visited[m.Rule.ID] = true
		result = append(result, m)
		queue = append(queue, queued{id: m.Rule.ID, depth: 0})
	}

	excluded := make(map[string]bool)
	var added []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, rel := range adjacency[cur.id] {
			switch rel.Kind {
			case KindExcludes:
				excluded[rel.TargetID] = true
			case KindDependsOn, KindImplies:
				if cur.depth >= e.MaxDepth {
					continue
				}
				if visited[rel.TargetID] {
					continue
				}
				target, ok := catalog[rel.TargetID]
				if !ok || !target.Enabled {
					continue
				}
				visited[rel.TargetID] = true
				result = append(result, MatchedRule{
					Rule:      target,
					Score:     0,
					Reasoning: fmt.Sprintf("expanded via %s from %s", rel.Kind, cur.id),
				})
				added = append(added, rel.TargetID)
				queue = append(queue, queued{id: rel.TargetID, depth: cur.depth + 1})
			}
		}
	}

	if len(excluded) == 0 {
		return Expansion{Rules: result, Added: added}
	}

	kept := result[:0]
	var removed []string
	for _, m := range result {
		if excluded[m.Rule.ID] {
			removed = append(removed, m.Rule.ID)
			continue
		}
		kept = append(kept, m)
	}
	return Expansion{Rules: kept, Added: added, Excluded: removed}
}
