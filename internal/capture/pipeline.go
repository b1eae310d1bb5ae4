package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"golang.org/x/image/draw"
)

// MaxDimension bounds the width and height a pipeline accepts.
const MaxDimension = 16384

var (
	// ErrNotConfigured is returned when frames arrive before a format.
	ErrNotConfigured = errors.New("pipeline has no stream format")

	// ErrShortFrame is returned when a buffer is smaller than the format needs.
	ErrShortFrame = errors.New("frame buffer too short")

	// ErrFrameTooLarge is returned for geometry above MaxDimension.
	ErrFrameTooLarge = errors.New("frame size too large")
)

// Pipeline turns raw frames in the negotiated pixel format into RGBA images.
// It must be configured with an accepted StreamFormat first and can be
// reconfigured whenever the server renegotiates.
type Pipeline struct {
	mu          sync.RWMutex
	format      negotiate.StreamFormat
	configured  bool
	latestFrame *image.RGBA
}

// NewPipeline creates an unconfigured pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Configure accepts a negotiated format. Unknown pixel formats, empty
// geometry and sizes above MaxDimension are refused and leave the previous
// format in place.
func (p *Pipeline) Configure(sf negotiate.StreamFormat) error {
	if err := sf.Validate(); err != nil {
		return err
	}
	if sf.Width > MaxDimension || sf.Height > MaxDimension {
		return fmt.Errorf("%w: %dx%d exceeds %d", ErrFrameTooLarge, sf.Width, sf.Height, MaxDimension)
	}

	p.mu.Lock()
	changed := !p.configured || p.format != sf
	p.format = sf
	p.configured = true
	if changed {
		p.latestFrame = nil
	}
	p.mu.Unlock()

	if changed {
		logger.WithComponent("capture").Info().
			Stringer("pixel_format", sf.PixelFormat).
			Uint32("width", sf.Width).
			Uint32("height", sf.Height).
			Int("frame_bytes", sf.PixelFormat.FrameSize(int(sf.Width), int(sf.Height))).
			Msg("Pipeline configured")
	}
	return nil
}

// Format returns the configured stream format
func (p *Pipeline) Format() (negotiate.StreamFormat, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.format, p.configured
}

// Convert decodes one frame and stores it as the latest frame. stride is the
// byte length of a row (the luma row for I420); zero means tightly packed.
func (p *Pipeline) Convert(data []byte, stride int) (*image.RGBA, error) {
	p.mu.RLock()
	sf, ok := p.format, p.configured
	p.mu.RUnlock()
	if !ok {
		return nil, ErrNotConfigured
	}

	img, err := convert(sf, data, stride)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	// Drop frames converted under a format that was replaced meanwhile.
	if p.format == sf {
		p.latestFrame = img
	}
	p.mu.Unlock()
	return img, nil
}

// LatestFrame returns the most recent captured frame
func (p *Pipeline) LatestFrame() *image.RGBA {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.latestFrame == nil {
		return nil
	}

	// Return a copy to avoid race conditions
	copyImg := image.NewRGBA(p.latestFrame.Bounds())
	copy(copyImg.Pix, p.latestFrame.Pix)
	return copyImg
}

// CropFrame extracts a region from the current frame, clamped to its bounds
func (p *Pipeline) CropFrame(x, y, width, height int) *image.RGBA {
	p.mu.RLock()
	frame := p.latestFrame
	p.mu.RUnlock()

	if frame == nil {
		return nil
	}

	r := image.Rect(x, y, x+width, y+height).Intersect(frame.Bounds())
	if r.Empty() {
		return nil
	}

	cropped := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(cropped, image.Point{}, frame, r, draw.Src, nil)
	return cropped
}

func convert(sf negotiate.StreamFormat, data []byte, stride int) (*image.RGBA, error) {
	w, h := int(sf.Width), int(sf.Height)
	switch sf.PixelFormat {
	case negotiate.PixelFormatI420:
		return convertI420(data, w, h, stride)
	case negotiate.PixelFormatYUY2:
		return convertYUY2(data, w, h, stride)
	}

	bpp := sf.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", negotiate.ErrUnsupportedFormat, sf.PixelFormat)
	}
	stride, err := checkPacked(data, w, h, bpp, stride)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := data[y*stride : y*stride+w*bpp]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		switch sf.PixelFormat {
		case negotiate.PixelFormatRGBA:
			copy(dst, src)
		case negotiate.PixelFormatRGBX:
			copy(dst, src)
			for i := 3; i < len(dst); i += 4 {
				dst[i] = 0xff
			}
		case negotiate.PixelFormatBGRA, negotiate.PixelFormatBGRX:
			opaque := sf.PixelFormat == negotiate.PixelFormatBGRX
			for i := 0; i < len(dst); i += 4 {
				dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+2], src[i+1], src[i], src[i+3]
				if opaque {
					dst[i+3] = 0xff
				}
			}
		case negotiate.PixelFormatRGB:
			for i, j := 0, 0; i < len(dst); i, j = i+4, j+3 {
				dst[i], dst[i+1], dst[i+2], dst[i+3] = src[j], src[j+1], src[j+2], 0xff
			}
		case negotiate.PixelFormatBGR:
			for i, j := 0, 0; i < len(dst); i, j = i+4, j+3 {
				dst[i], dst[i+1], dst[i+2], dst[i+3] = src[j+2], src[j+1], src[j], 0xff
			}
		}
	}
	return img, nil
}

// checkPacked resolves the stride and verifies data covers every row.
func checkPacked(data []byte, w, h, bpp, stride int) (int, error) {
	row := w * bpp
	if stride == 0 {
		stride = row
	}
	if stride < row {
		return 0, fmt.Errorf("%w: stride %d below row size %d", ErrShortFrame, stride, row)
	}
	need := (h-1)*stride + row
	if len(data) < need {
		return 0, fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(data), need)
	}
	return stride, nil
}

func convertI420(data []byte, w, h, stride int) (*image.RGBA, error) {
	if stride == 0 {
		stride = w
	}
	if stride < w {
		return nil, fmt.Errorf("%w: stride %d below row size %d", ErrShortFrame, stride, w)
	}
	cstride := (stride + 1) / 2
	ch := (h + 1) / 2
	ySize, cSize := stride*h, cstride*ch
	if len(data) < ySize+2*cSize {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(data), ySize+2*cSize)
	}

	src := &image.YCbCr{
		Y:              data[:ySize],
		Cb:             data[ySize : ySize+cSize],
		Cr:             data[ySize+cSize : ySize+2*cSize],
		YStride:        stride,
		CStride:        cstride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}
	dst := image.NewRGBA(src.Rect)
	draw.Copy(dst, image.Point{}, src, src.Rect, draw.Src, nil)
	return dst, nil
}

// convertYUY2 splits the packed Y0 U Y1 V macropixels into 4:2:2 planes and
// lets draw do the colour conversion.
func convertYUY2(data []byte, w, h, stride int) (*image.RGBA, error) {
	cw := (w + 1) / 2
	stride, err := checkPacked(data, cw*2, h, 2, stride)
	if err != nil {
		return nil, err
	}

	src := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := 0; y < h; y++ {
		row := data[y*stride : y*stride+cw*4]
		for x := 0; x < cw; x++ {
			m := row[x*4 : x*4+4]
			src.Y[y*src.YStride+2*x] = m[0]
			if 2*x+1 < w {
				src.Y[y*src.YStride+2*x+1] = m[2]
			}
			src.Cb[y*src.CStride+x] = m[1]
			src.Cr[y*src.CStride+x] = m[3]
		}
	}

	dst := image.NewRGBA(src.Rect)
	draw.Copy(dst, image.Point{}, src, src.Rect, draw.Src, nil)
	return dst, nil
}

// StrideFor derives the row stride of a buffer of n bytes holding one frame.
// Packed rows may carry padding; I420 is only accepted tightly packed.
func StrideFor(pf negotiate.PixelFormat, width, height, n int) (int, bool) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return 0, false
	}
	if n < pf.FrameSize(width, height) {
		return 0, false
	}
	if pf == negotiate.PixelFormatI420 {
		return 0, n == pf.FrameSize(width, height)
	}
	if pf.BytesPerPixel() == 0 {
		return 0, false
	}
	return n / height, true
}
