package models

// LookupConfig controls a single lookup request.
// SimilarityThreshold is an upper bound on vector distance.
type LookupConfig struct {
	SimilarityThreshold  float64 `json:"similarityThreshold" yaml:"similarity_threshold" validate:"gt=0,lte=1"`
	GraphHops            int     `json:"graphHops" yaml:"graph_hops" validate:"min=1,max=3"`
	EnableGraphHops      bool    `json:"enableGraphHops" yaml:"enable_graph_hops"`
	SemanticSimilarLimit int     `json:"semanticSimilarLimit" yaml:"semantic_similar_limit" validate:"min=1,max=100"`
	TotalEntityLimit     int     `json:"totalEntityLimit" yaml:"total_entity_limit" validate:"min=1,max=500"`
}

// DefaultLookupConfig returns the defaults used when a caller omits fields.
func DefaultLookupConfig() LookupConfig {
	return LookupConfig{
		SimilarityThreshold:  0.5,
		GraphHops:            1,
		EnableGraphHops:      true,
		SemanticSimilarLimit: 10,
		TotalEntityLimit:     50,
	}
}

// SimilarMatch is a raw nearest-neighbour hit from the vector store.
type SimilarMatch struct {
	EntityID string  `json:"entityId"`
	Distance float64 `json:"distance"`
}

// Similarity converts distance to a similarity in [0, 1].
func (m SimilarMatch) Similarity() float64 {
	return ClampUnit(1.0 - m.Distance)
}

// SemanticMatch is a similar entity hydrated from the relational store.
type SemanticMatch struct {
	Entity   Entity  `json:"entity"`
	Distance float64 `json:"distance"`
}

// ScoredCandidate is an entity with its score breakdown.
type ScoredCandidate struct {
	Entity            Entity  `json:"entity"`
	SemanticScore     float64 `json:"semanticScore"`
	RecencyScore      float64 `json:"recencyScore"`
	ImportanceScore   float64 `json:"importanceScore"`
	ConnectivityBonus float64 `json:"connectivityBonus"`
	FinalScore        float64 `json:"finalScore"`
	IsSemanticMatch   bool    `json:"isSemanticMatch"`
	IsGraphConnected  bool    `json:"isGraphConnected"`
}

// LookupResult is the per-request aggregate built by the orchestrator.
// It is never persisted.
type LookupResult struct {
	Seed             Entity            `json:"seedEntity"`
	SemanticMatches  []SemanticMatch   `json:"semanticMatches"`
	GraphConnected   []string          `json:"graphConnected"`
	MergedEdges      []Relationship    `json:"mergedEdges"`
	ScoredCandidates []ScoredCandidate `json:"scoredCandidates"`
	Warnings         []string          `json:"warnings,omitempty"`
	Stats            LookupStats       `json:"stats"`
}

// LookupStats summarizes how a lookup was produced.
type LookupStats struct {
	SemanticMatches  int   `json:"semanticMatches"`
	GraphConnected   int   `json:"graphConnected"`
	RelationalEdges  int   `json:"relationalEdges"`
	TraversalEdges   int   `json:"traversalEdges"`
	Candidates       int   `json:"candidates"`
	DurationMs       int64 `json:"durationMs"`
	SemanticSearchMs int64 `json:"semanticSearchMs"`
	ExpansionMs      int64 `json:"expansionMs"`
	HydrationMs      int64 `json:"hydrationMs"`
}

// LookupNode is a node of the lookup payload: entity attributes plus
// provenance flags.
type LookupNode struct {
	Entity
	SemanticScore    float64 `json:"semanticScore"`
	FinalScore       float64 `json:"finalScore"`
	IsSeed           bool    `json:"isSeed"`
	IsSemanticMatch  bool    `json:"isSemanticMatch"`
	IsGraphConnected bool    `json:"isGraphConnected"`
	IsConnected      bool    `json:"isConnected"`
}

// LookupEdge is an edge of the lookup payload with a stable id.
type LookupEdge struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Type     string         `json:"type"`
	Weight   float64        `json:"weight"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// LookupGraph is the node/edge payload rendered by clients.
type LookupGraph struct {
	Nodes []LookupNode `json:"nodes"`
	Edges []LookupEdge `json:"edges"`
}

// SimilarEntity is an entry of the similarEntities list.
type SimilarEntity struct {
	Entity
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
}

// LookupResponse is the outbound shape of a lookup.
type LookupResponse struct {
	FoundEntity       Entity          `json:"foundEntity"`
	SimilarEntities   []SimilarEntity `json:"similarEntities"`
	ConnectedEntities []Entity        `json:"connectedEntities"`
	Graph             LookupGraph     `json:"graph"`
	TotalEntities     int             `json:"totalEntities"`
	Warnings          []string        `json:"warnings,omitempty"`
	Stats             LookupStats     `json:"stats"`
}
