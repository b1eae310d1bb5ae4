package negotiate

import (
	"fmt"

	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
)

// RectangleRange is an inclusive size range with a preferred value.
type RectangleRange struct {
	Default spa.Rectangle `json:"default" yaml:"default"`
	Min     spa.Rectangle `json:"min" yaml:"min"`
	Max     spa.Rectangle `json:"max" yaml:"max"`
}

// FractionRange is an inclusive frame rate range with a preferred value.
type FractionRange struct {
	Default spa.Fraction `json:"default" yaml:"default"`
	Min     spa.Fraction `json:"min" yaml:"min"`
	Max     spa.Fraction `json:"max" yaml:"max"`
}

// CapabilityRange is the format space a client will accept. Formats are
// server ids in preference order; the first is the default.
type CapabilityRange struct {
	Formats   []spa.VideoFormat `json:"formats" yaml:"formats"`
	Size      RectangleRange    `json:"size" yaml:"size"`
	Framerate FractionRange     `json:"framerate" yaml:"framerate"`
}

// DefaultFormat returns the preferred server format.
func (r CapabilityRange) DefaultFormat() spa.VideoFormat {
	if len(r.Formats) == 0 {
		return spa.VideoFormatUnknown
	}
	return r.Formats[0]
}

// Validate checks the range once, at configuration time.
func (r CapabilityRange) Validate() error {
	if len(r.Formats) == 0 {
		return fmt.Errorf("%w: empty pixel format list", ErrInvalidRange)
	}

	s := r.Size
	if s.Min.Width > s.Max.Width {
		return fmt.Errorf("%w: min width %d > max width %d", ErrInvalidRange, s.Min.Width, s.Max.Width)
	}
	if s.Min.Height > s.Max.Height {
		return fmt.Errorf("%w: min height %d > max height %d", ErrInvalidRange, s.Min.Height, s.Max.Height)
	}
	if s.Default.Width < s.Min.Width || s.Default.Width > s.Max.Width ||
		s.Default.Height < s.Min.Height || s.Default.Height > s.Max.Height {
		return fmt.Errorf("%w: default size %s outside [%s, %s]", ErrInvalidRange, s.Default, s.Min, s.Max)
	}

	f := r.Framerate
	for name, v := range map[string]spa.Fraction{"min": f.Min, "max": f.Max, "default": f.Default} {
		if v.Denom == 0 {
			return fmt.Errorf("%w: %s framerate %s has zero denominator", ErrInvalidRange, name, v)
		}
	}
	if f.Min.Compare(f.Max) > 0 {
		return fmt.Errorf("%w: min framerate %s > max framerate %s", ErrInvalidRange, f.Min, f.Max)
	}
	if f.Default.Compare(f.Min) < 0 || f.Default.Compare(f.Max) > 0 {
		return fmt.Errorf("%w: default framerate %s outside [%s, %s]", ErrInvalidRange, f.Default, f.Min, f.Max)
	}
	return nil
}
