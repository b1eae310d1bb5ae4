package pipewire

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/pwnegotiator/internal/capture"
	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
)

// Capturer implements the capture.Capturer interface using PipeWire
type Capturer struct {
	profile  negotiate.Profile
	sources  uint32
	onFormat func(negotiate.StreamFormat)

	frames   *capture.Pipeline
	portal   *Portal
	pipeline *GStreamerPipeline
	mu       sync.Mutex
	started  bool
}

var _ capture.Capturer = (*Capturer)(nil)

// NewCapturer creates a PipeWire capturer for profile. sources names the
// portal source types to offer; onFormat may be nil.
func NewCapturer(profile negotiate.Profile, sources []string, onFormat func(negotiate.StreamFormat)) (*Capturer, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	types, err := SourceTypes(sources)
	if err != nil {
		return nil, err
	}
	return &Capturer{
		profile:  profile,
		sources:  types,
		onFormat: onFormat,
		frames:   capture.NewPipeline(),
	}, nil
}

// Start opens the portal session, starts the pipeline and waits for the
// first accepted format
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("capturer already started")
	}

	log := logger.WithComponent("pipewire-capturer")

	portal, err := NewPortal()
	if err != nil {
		return fmt.Errorf("failed to create portal: %w", err)
	}

	nodeID, err := portal.StartScreenShare(ctx, c.sources)
	if err != nil {
		portal.Close()
		return fmt.Errorf("failed to start screen share: %w", err)
	}
	log.Info().Uint32("node_id", nodeID).Msg("Got PipeWire node ID")

	pipeline := NewGStreamerPipeline(nodeID, c.profile, c.frames, c.onFormat)
	if err := pipeline.Start(); err != nil {
		portal.Close()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	select {
	case <-pipeline.Ready():
	case <-ctx.Done():
		pipeline.Stop()
		portal.Close()
		return fmt.Errorf("waiting for stream format: %w", ctx.Err())
	}

	c.portal = portal
	c.pipeline = pipeline
	c.started = true
	log.Info().Str("profile", c.profile.Name).Msg("PipeWire capturer started")

	return nil
}

// Stop stops the PipeWire capture session
func (c *Capturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pipeline != nil {
		c.pipeline.Stop()
		c.pipeline = nil
	}

	if c.portal != nil {
		c.portal.Close()
		c.portal = nil
	}

	c.started = false
	logger.WithComponent("pipewire-capturer").Info().Msg("PipeWire capturer stopped")

	return nil
}

// Format returns the accepted stream format
func (c *Capturer) Format() (negotiate.StreamFormat, bool) {
	return c.frames.Format()
}

// LatestFrame returns the most recent frame converted to RGBA
func (c *Capturer) LatestFrame() *image.RGBA {
	return c.frames.LatestFrame()
}

// CropFrame returns a region of the most recent frame
func (c *Capturer) CropFrame(x, y, width, height int) *image.RGBA {
	return c.frames.CropFrame(x, y, width, height)
}

// Name returns the capturer name
func (c *Capturer) Name() string {
	return "PipeWire"
}
