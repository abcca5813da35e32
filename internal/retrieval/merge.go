package retrieval

import "github.com/raphaelgruber/cosmos-go/internal/models"

// MergeRelationships combines relational-store edges with traversal edges,
// deduplicated by (source, target, type).
//
// When both origins share a key the relational edge wins and takes the
// traversal weight if it has none of its own. Within one origin, edges with
// distinct explicit ids under the same key are parallel edges and all kept;
// an id-less edge never adds a second edge to a key that already has one.
// Output order is relational edges first, then new traversal edges, each in
// input order.
func MergeRelationships(relational, traversal []models.Relationship) []models.Relationship {
	out := make([]models.Relationship, 0, len(relational)+len(traversal))
	byKey := make(map[models.EdgeKey][]int)
	seenIDs := make(map[string]bool)

	add := func(r models.Relationship, origin models.EdgeOrigin) {
		r.Origin = origin
		if r.Weight != nil {
			w := *r.Weight
			r.Weight = &w
		}
		k := r.Key()
		byKey[k] = append(byKey[k], len(out))
		if r.ID != "" {
			seenIDs[r.ID] = true
		}
		out = append(out, r)
	}

	acceptWithin := func(r models.Relationship, existing []int) bool {
		if r.ID != "" && seenIDs[r.ID] {
			return false
		}
		if len(existing) == 0 {
			return true
		}
		if r.ID == "" {
			return false
		}
		for _, i := range existing {
			if out[i].ID == "" {
				return false
			}
		}
		return true
	}

	for _, r := range relational {
		if acceptWithin(r, byKey[r.Key()]) {
			add(r, models.OriginRelational)
		}
	}

	for _, r := range traversal {
		existing := byKey[r.Key()]
		relationalWins := false
		for _, i := range existing {
			if out[i].Origin != models.OriginRelational {
				continue
			}
			relationalWins = true
			if out[i].Weight == nil && r.Weight != nil {
				w := *r.Weight
				out[i].Weight = &w
			}
		}
		if relationalWins {
			continue
		}
		if acceptWithin(r, existing) {
			add(r, models.OriginTraversal)
		}
	}

	return out
}
