package capture

import (
	"context"
	"image"

	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
)

// Capturer defines the interface for screen capture backends
type Capturer interface {
	// Start opens the session and negotiates a stream format. It blocks
	// until the first format is accepted or ctx is done.
	Start(ctx context.Context) error

	// Stop releases resources and stops any background processes
	Stop() error

	// Format returns the accepted stream format, if any
	Format() (negotiate.StreamFormat, bool)

	// LatestFrame returns a copy of the most recent frame, or nil
	LatestFrame() *image.RGBA

	// CropFrame returns a region of the most recent frame, or nil
	CropFrame(x, y, width, height int) *image.RGBA

	// Name returns a human-readable name for this capturer
	Name() string
}
