package pipewire

import (
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/pwnegotiator/internal/capture"
	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GStreamerPipeline pulls frames from a PipeWire node. pipewiresrc performs
// the EnumFormat/Format exchange with the server; the caps filter restricts it
// to the profile's capability range, and each sample's fixed caps are decoded
// back into a StreamFormat.
type GStreamerPipeline struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
	nodeID   uint32
	profile  negotiate.Profile
	sink     *capture.Pipeline
	onFormat func(negotiate.StreamFormat)

	mu       sync.RWMutex
	caps     string
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	ready    chan struct{}
	readyOne sync.Once
}

// NewGStreamerPipeline creates a pipeline for nodeID that feeds sink.
// onFormat, if set, is called whenever a new format is accepted.
func NewGStreamerPipeline(nodeID uint32, profile negotiate.Profile, sink *capture.Pipeline, onFormat func(negotiate.StreamFormat)) *GStreamerPipeline {
	return &GStreamerPipeline{
		nodeID:   nodeID,
		profile:  profile,
		sink:     sink,
		onFormat: onFormat,
		ready:    make(chan struct{}),
	}
}

// Description returns the gst-launch description of the pipeline
func (p *GStreamerPipeline) Description() string {
	// Using emit-signals=false and polling mode to avoid CGO callback issues
	return fmt.Sprintf(
		"pipewiresrc path=%d do-timestamp=true ! %s ! appsink name=sink emit-signals=false max-buffers=2 drop=true",
		p.nodeID, negotiate.CapsString(p.profile.Range),
	)
}

// Start initializes and starts the GStreamer pipeline
func (p *GStreamerPipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	log := logger.WithComponent("gstreamer")

	gst.Init(nil)

	desc := p.Description()
	log.Debug().Str("pipeline", desc).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	p.pipeline = pipeline
	p.appsink = app.SinkFromElement(sinkElement)
	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	go p.pollSamples(p.appsink, p.stopChan, p.done)

	log.Info().Uint32("node_id", p.nodeID).Str("profile", p.profile.Name).Msg("GStreamer pipeline started")
	return nil
}

// Ready is closed once the first format has been accepted
func (p *GStreamerPipeline) Ready() <-chan struct{} {
	return p.ready
}

// Stop stops the GStreamer pipeline
func (p *GStreamerPipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done

	p.mu.Lock()
	if p.pipeline != nil {
		p.pipeline.SetState(gst.StateNull)
		p.pipeline.Unref()
		p.pipeline = nil
		p.appsink = nil
	}
	p.mu.Unlock()

	logger.WithComponent("gstreamer").Info().Msg("GStreamer pipeline stopped")
	return nil
}

// IsRunning returns whether the pipeline is running
func (p *GStreamerPipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// pollSamples pulls samples until stop is closed (avoids CGO callback issues)
func (p *GStreamerPipeline) pollSamples(appsink *app.Sink, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("gstreamer")

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			log.Debug().Msg("Sample polling stopped")
			return
		case <-ticker.C:
			// Note: Don't call Unref() - go-gst library handles this internally
			sample := appsink.TryPullSample(time.Millisecond)
			if sample == nil {
				continue
			}
			if err := p.processSample(sample); err != nil {
				log.Warn().Err(err).Msg("Dropping sample")
			}
		}
	}
}

// processSample accepts a new format when the caps change, then converts the
// frame in that format.
func (p *GStreamerPipeline) processSample(sample *gst.Sample) error {
	caps := sample.GetCaps()
	if caps == nil {
		return fmt.Errorf("sample has no caps")
	}

	if s := caps.String(); s != p.caps {
		if err := p.accept(s); err != nil {
			return err
		}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return fmt.Errorf("failed to map buffer")
	}
	defer buffer.Unmap()

	sf, _ := p.sink.Format()
	data := mapInfo.Bytes()
	stride, ok := capture.StrideFor(sf.PixelFormat, int(sf.Width), int(sf.Height), len(data))
	if !ok {
		return fmt.Errorf("unexpected %s buffer of %d bytes", sf.PixelFormat, len(data))
	}
	_, err := p.sink.Convert(data, stride)
	return err
}

func (p *GStreamerPipeline) accept(caps string) error {
	log := logger.WithComponent("gstreamer")

	sf, err := negotiate.ParseCaps(caps, p.profile.Table)
	if err != nil {
		return fmt.Errorf("negotiated caps %q: %w", caps, err)
	}
	if err := p.sink.Configure(sf); err != nil {
		return fmt.Errorf("negotiated caps %q: %w", caps, err)
	}
	p.caps = caps

	log.Info().
		Stringer("server_format", sf.ServerFormat).
		Stringer("pixel_format", sf.PixelFormat).
		Uint32("width", sf.Width).
		Uint32("height", sf.Height).
		Stringer("framerate", sf.Framerate).
		Msg("Stream format accepted")

	if p.onFormat != nil {
		p.onFormat(sf)
	}
	p.readyOne.Do(func() { close(p.ready) })
	return nil
}
