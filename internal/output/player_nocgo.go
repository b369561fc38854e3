//go:build linux && !cgo

package output

import (
	"context"

	"github.com/satindergrewal/twindeck/internal/stream"
)

// Play is unavailable without cgo on Linux.
func Play(ctx context.Context, b *stream.Broadcaster) error {
	return ErrUnavailable
}
