package negotiate

import (
	"fmt"
	"sort"

	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
)

// Profile pairs what a client offers with how it reads the answer.
type Profile struct {
	Name  string
	Range CapabilityRange
	Table *FormatTable
}

// Validate checks the range and that every offered format has a mapping, so
// anything the server can pick from the offer is usable.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: profile has no name", ErrInvalidRange)
	}
	if err := p.Range.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	if p.Table.Len() == 0 {
		return fmt.Errorf("profile %s: %w: empty format table", p.Name, ErrInvalidRange)
	}
	for _, f := range p.Range.Formats {
		if p.Table.Map(f) == PixelFormatUnknown {
			return fmt.Errorf("profile %s: %w: offered format %s has no mapping", p.Name, ErrInvalidRange, f)
		}
	}
	return nil
}

// Built-in profile names.
const (
	ProfileDesktop    = "desktop"
	ProfileScreencast = "screencast"
)

var (
	fullBounds = RectangleRange{
		Min: spa.Rectangle{Width: 1, Height: 1},
		Max: spa.Rectangle{Width: 4096, Height: 4096},
	}
	rateBounds = FractionRange{
		Min: spa.Fraction{Num: 0, Denom: 1},
		Max: spa.Fraction{Num: 1000, Denom: 1},
	}
)

// DesktopProfile is full-desktop capture with broad packed RGB/BGR coverage.
func DesktopProfile() Profile {
	size := fullBounds
	size.Default = spa.Rectangle{Width: 1080, Height: 1920}
	rate := rateBounds
	rate.Default = spa.Fraction{Num: 60, Denom: 1}

	return Profile{
		Name: ProfileDesktop,
		Range: CapabilityRange{
			Formats: []spa.VideoFormat{
				spa.VideoFormatRGB,
				spa.VideoFormatRGBA,
				spa.VideoFormatRGBx,
				spa.VideoFormatBGRA,
				spa.VideoFormatBGRx,
				spa.VideoFormatBGR,
			},
			Size:      size,
			Framerate: rate,
		},
		Table: MustFormatTable(map[spa.VideoFormat]PixelFormat{
			spa.VideoFormatRGB:  PixelFormatRGB,
			spa.VideoFormatRGBA: PixelFormatRGBA,
			spa.VideoFormatRGBx: PixelFormatRGBX,
			spa.VideoFormatBGRA: PixelFormatBGRA,
			spa.VideoFormatBGRx: PixelFormatBGRX,
			spa.VideoFormatBGR:  PixelFormatBGR,
		}),
	}
}

// ScreencastProfile is narrower window capture that also takes YUV formats.
func ScreencastProfile() Profile {
	size := fullBounds
	size.Default = spa.Rectangle{Width: 320, Height: 240}
	rate := rateBounds
	rate.Default = spa.Fraction{Num: 25, Denom: 1}

	return Profile{
		Name: ProfileScreencast,
		Range: CapabilityRange{
			Formats: []spa.VideoFormat{
				spa.VideoFormatRGB,
				spa.VideoFormatRGBA,
				spa.VideoFormatRGBx,
				spa.VideoFormatBGRx,
				spa.VideoFormatYUY2,
				spa.VideoFormatI420,
			},
			Size:      size,
			Framerate: rate,
		},
		Table: MustFormatTable(map[spa.VideoFormat]PixelFormat{
			spa.VideoFormatRGB:  PixelFormatRGB,
			spa.VideoFormatRGBA: PixelFormatRGBA,
			spa.VideoFormatRGBx: PixelFormatRGBX,
			spa.VideoFormatBGRx: PixelFormatBGRX,
			spa.VideoFormatYUY2: PixelFormatYUY2,
			spa.VideoFormatI420: PixelFormatI420,
		}),
	}
}

// BuiltinProfiles returns fresh copies of the built-in profiles by name.
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileDesktop:    DesktopProfile(),
		ProfileScreencast: ScreencastProfile(),
	}
}

// ProfileNames returns the sorted keys of profiles.
func ProfileNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
