// Package testutil provides testing utilities for the inspector packages.
package testutil

import (
	"context"
	"testing"
	"time"
)

// NewTestContext returns a context that times out after 10 seconds and is
// cancelled when the test finishes.
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
