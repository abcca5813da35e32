// Package scoring ranks lookup candidates by a weighted blend of semantic
// similarity, recency, importance and graph connectivity.
package scoring

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

const (
	// NeutralRecency is used when the creation time is missing or unparseable.
	NeutralRecency = 0.5
	// NeutralScore replaces a non-finite final score.
	NeutralScore = 0.5
	// DefaultImportance is used when an entity carries no importance score.
	DefaultImportance = 1.0
)

// Weights holds the scoring coefficients.
type Weights struct {
	Semantic          float64 `yaml:"semantic"`
	Recency           float64 `yaml:"recency"`
	Importance        float64 `yaml:"importance"`
	ConnectivityBonus float64 `yaml:"connectivity_bonus"`
	DecayLambda       float64 `yaml:"decay_lambda"`
	MaxImportance     float64 `yaml:"max_importance"`
}

// DefaultWeights returns α=0.5, β=0.3, γ=0.2, a 0.1 connectivity bonus and
// a decay rate of 0.1 per day.
func DefaultWeights() Weights {
	return Weights{
		Semantic:          0.5,
		Recency:           0.3,
		Importance:        0.2,
		ConnectivityBonus: 0.1,
		DecayLambda:       0.1,
		MaxImportance:     10,
	}
}

// Bound is the largest final score these weights can produce.
func (w Weights) Bound() float64 {
	return w.Semantic + w.Recency + w.Importance*w.MaxImportance + w.ConnectivityBonus
}

// Input describes one candidate before scoring.
type Input struct {
	Entity           models.Entity
	SemanticScore    float64
	IsSemanticMatch  bool
	IsGraphConnected bool
}

// Engine scores and ranks candidates. It is safe for concurrent use.
type Engine struct {
	weights   Weights
	now       func() time.Time
	logger    *slog.Logger
	onAnomaly func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for recency.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger used to report scoring anomalies.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithAnomalyHook registers a callback invoked for every non-finite score.
func WithAnomalyHook(fn func()) Option {
	return func(e *Engine) { e.onAnomaly = fn }
}

// NewEngine creates a scoring engine.
func NewEngine(w Weights, opts ...Option) *Engine {
	e := &Engine{
		weights: w,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Weights returns the engine's coefficients.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Recency returns exp(-λ·days) for the given creation time, or
// NeutralRecency when it is unknown. Future timestamps count as zero days.
func (e *Engine) Recency(createdAt *time.Time) float64 {
	if createdAt == nil || createdAt.IsZero() {
		return NeutralRecency
	}
	days := e.now().Sub(*createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	r := math.Exp(-e.weights.DecayLambda * days)
	if !isFinite(r) {
		return NeutralRecency
	}
	return r
}

// Importance returns the entity's importance clamped to [0, MaxImportance].
func (e *Engine) Importance(score *float64) float64 {
	if score == nil || math.IsNaN(*score) {
		return DefaultImportance
	}
	v := *score
	if v < 0 {
		return 0
	}
	if v > e.weights.MaxImportance {
		return e.weights.MaxImportance
	}
	return v
}

// Score computes the final score of a single candidate. A non-finite result
// is replaced with NeutralScore and reported through the anomaly hook.
func (e *Engine) Score(in Input) models.ScoredCandidate {
	w := e.weights

	recency := e.Recency(in.Entity.CreatedAt)
	importance := e.Importance(in.Entity.ImportanceScore)
	semantic := in.SemanticScore
	if isFinite(semantic) {
		semantic = models.ClampUnit(semantic)
	}
	bonus := 0.0
	if in.IsGraphConnected {
		bonus = w.ConnectivityBonus
	}

	final := w.Semantic*semantic + w.Recency*recency + w.Importance*importance + bonus
	if !isFinite(final) {
		e.logger.Warn("scoring anomaly, using neutral score",
			"entity_id", in.Entity.ID,
			"semantic", semantic,
			"recency", recency,
			"importance", importance)
		if e.onAnomaly != nil {
			e.onAnomaly()
		}
		final = NeutralScore
	}

	return models.ScoredCandidate{
		Entity:            in.Entity,
		SemanticScore:     finiteOr(semantic, 0),
		RecencyScore:      recency,
		ImportanceScore:   importance,
		ConnectivityBonus: bonus,
		FinalScore:        final,
		IsSemanticMatch:   in.IsSemanticMatch,
		IsGraphConnected:  in.IsGraphConnected,
	}
}

// Rank scores every input, sorts by final score descending with ties broken
// by entity id, and truncates to limit. A limit <= 0 keeps everything.
func (e *Engine) Rank(inputs []Input, limit int) []models.ScoredCandidate {
	out := make([]models.ScoredCandidate, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, e.Score(in))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteOr(v, fallback float64) float64 {
	if isFinite(v) {
		return v
	}
	return fallback
}
