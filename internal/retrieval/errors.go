package retrieval

import "errors"

// Sentinel errors for the retrieval pipeline.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEntityNotFound indicates the seed entity is missing from the
	// relational store or is not active.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrNotIndexed indicates the seed entity has no vector in the vector
	// store. Lookups may continue with an empty semantic set.
	ErrNotIndexed = errors.New("entity not indexed")

	// ErrNoSimilarEntities indicates a lookup found nothing to explore.
	ErrNoSimilarEntities = errors.New("no similar entities")
)
