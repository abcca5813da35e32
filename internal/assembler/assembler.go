// Package assembler builds the final lookup payload.
package assembler

import (
	"fmt"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// SeedSemanticScore is the semantic score reported for the seed node.
const SeedSemanticScore = 1.0

// Assemble returns the node/edge payload for a lookup result. The seed comes
// first, followed by the ranked candidates. Edges are deduplicated, given a
// stable id when they have none, and dropped when an endpoint is not a node.
func Assemble(res *models.LookupResult) models.LookupGraph {
	nodes := make([]models.LookupNode, 0, len(res.ScoredCandidates)+1)
	nodeIDs := make(map[string]bool, len(res.ScoredCandidates)+1)

	nodes = append(nodes, models.LookupNode{
		Entity:        res.Seed,
		SemanticScore: SeedSemanticScore,
		IsSeed:        true,
	})
	nodeIDs[res.Seed.ID] = true

	for _, c := range res.ScoredCandidates {
		if nodeIDs[c.Entity.ID] {
			continue
		}
		nodeIDs[c.Entity.ID] = true
		nodes = append(nodes, models.LookupNode{
			Entity:           c.Entity,
			SemanticScore:    c.SemanticScore,
			FinalScore:       c.FinalScore,
			IsSemanticMatch:  c.IsSemanticMatch,
			IsGraphConnected: c.IsGraphConnected,
			IsConnected:      c.IsGraphConnected,
		})
	}

	return models.LookupGraph{
		Nodes: nodes,
		Edges: AssembleEdges(res.MergedEdges, nodeIDs),
	}
}

// AssembleEdges keeps edges whose endpoints are both in nodeIDs. Edges with
// an explicit id are unique by id; id-less edges are unique by
// (source, target, type) and named "source-target-type-index", where index
// counts earlier edges of the same key.
func AssembleEdges(edges []models.Relationship, nodeIDs map[string]bool) []models.LookupEdge {
	out := make([]models.LookupEdge, 0, len(edges))
	usedIDs := make(map[string]bool, len(edges))
	keyless := make(map[models.EdgeKey]bool)
	parallel := make(map[models.EdgeKey]int)

	for _, e := range edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue
		}
		k := e.Key()

		id := e.ID
		if id == "" {
			if keyless[k] {
				continue
			}
			keyless[k] = true
			id = fmt.Sprintf("%s-%s-%s-%d", e.Source, e.Target, e.Type, parallel[k])
		}
		if usedIDs[id] {
			continue
		}
		usedIDs[id] = true
		parallel[k]++

		out = append(out, models.LookupEdge{
			ID:       id,
			Source:   e.Source,
			Target:   e.Target,
			Type:     e.Type,
			Weight:   e.EffectiveWeight(),
			Metadata: e.Metadata,
		})
	}
	return out
}
