// Package sink writes finalized lead records to the shared lead table.
package sink

import (
	"context"
	"errors"
)

var (
	// ErrSchema means the row does not fit the table. Never retried.
	ErrSchema = errors.New("sink: column mismatch")
	// ErrPermanent marks rejections that will fail again on retry.
	ErrPermanent = errors.New("sink: permanent write error")
)

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrSchema)
}

// Upserter creates or updates one row, matched on ColLeadKey.
type Upserter interface {
	Upsert(ctx context.Context, f Fields) error
}
