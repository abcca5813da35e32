package vectordb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for vector store operations.
var (
	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrTransactionConflict indicates concurrent writes to the same records.
	// Callers should retry or skip.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError maps known SurrealDB query errors onto sentinels and returns
// any other error unchanged.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "dimension") {
			return fmt.Errorf("%w: %s", ErrDimensionMismatch, msg)
		}
	}

	return err
}
