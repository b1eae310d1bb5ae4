package negotiate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
)

// PixelFormat is the application's own pixel layout enumeration. The capture
// pipeline picks its copy path from it.
type PixelFormat int

// Supported pixel formats. PixelFormatUnknown is never produced by a table
// lookup that succeeded.
const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatRGBA
	PixelFormatRGBX
	PixelFormatRGB
	PixelFormatBGRA
	PixelFormatBGRX
	PixelFormatBGR
	PixelFormatYUY2
	PixelFormatI420
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatUnknown: "Unknown",
	PixelFormatRGBA:    "RGBA",
	PixelFormatRGBX:    "RGBX",
	PixelFormatRGB:     "RGB",
	PixelFormatBGRA:    "BGRA",
	PixelFormatBGRX:    "BGRX",
	PixelFormatBGR:     "BGR",
	PixelFormatYUY2:    "YUY2",
	PixelFormatI420:    "I420",
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// ParsePixelFormat looks a format up by name, ignoring case.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, name := range pixelFormatNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return PixelFormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f PixelFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *PixelFormat) UnmarshalText(text []byte) error {
	v, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// BytesPerPixel returns the packed pixel size, or 0 for planar formats and
// Unknown.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA, PixelFormatRGBX, PixelFormatBGRA, PixelFormatBGRX:
		return 4
	case PixelFormatRGB, PixelFormatBGR:
		return 3
	case PixelFormatYUY2:
		return 2
	default:
		return 0
	}
}

// FrameSize returns the number of bytes of a tightly packed frame.
func (f PixelFormat) FrameSize(width, height int) int {
	if f == PixelFormatI420 {
		cw, ch := (width+1)/2, (height+1)/2
		return width*height + 2*cw*ch
	}
	return f.BytesPerPixel() * width * height
}

// FormatTable maps server pixel format ids to PixelFormat. It is injective:
// no two server ids share a PixelFormat, so it can be inverted exactly.
type FormatTable struct {
	byServer map[spa.VideoFormat]PixelFormat
	byPixel  map[PixelFormat]spa.VideoFormat
}

// TableEntry is one row of a FormatTable.
type TableEntry struct {
	Server spa.VideoFormat `json:"server" yaml:"server"`
	Pixel  PixelFormat     `json:"pixel" yaml:"pixel"`
}

// NewFormatTable builds a table from server id to pixel format.
func NewFormatTable(entries map[spa.VideoFormat]PixelFormat) (*FormatTable, error) {
	t := &FormatTable{
		byServer: make(map[spa.VideoFormat]PixelFormat, len(entries)),
		byPixel:  make(map[PixelFormat]spa.VideoFormat, len(entries)),
	}
	for id, pf := range entries {
		if _, ok := pixelFormatNames[pf]; !ok || pf == PixelFormatUnknown {
			return nil, fmt.Errorf("format table: %s maps to invalid pixel format %s", id, pf)
		}
		if prev, dup := t.byPixel[pf]; dup {
			return nil, fmt.Errorf("format table: %s and %s both map to %s", prev, id, pf)
		}
		t.byServer[id] = pf
		t.byPixel[pf] = id
	}
	return t, nil
}

// MustFormatTable is NewFormatTable for static tables.
func MustFormatTable(entries map[spa.VideoFormat]PixelFormat) *FormatTable {
	t, err := NewFormatTable(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Map translates a server id. Ids not in the table yield PixelFormatUnknown.
func (t *FormatTable) Map(id spa.VideoFormat) PixelFormat {
	if t == nil {
		return PixelFormatUnknown
	}
	if pf, ok := t.byServer[id]; ok {
		return pf
	}
	return PixelFormatUnknown
}

// ServerID is the inverse of Map.
func (t *FormatTable) ServerID(pf PixelFormat) (spa.VideoFormat, bool) {
	if t == nil {
		return 0, false
	}
	id, ok := t.byPixel[pf]
	return id, ok
}

// Len returns the number of entries.
func (t *FormatTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byServer)
}

// Entries returns the table sorted by server id.
func (t *FormatTable) Entries() []TableEntry {
	if t == nil {
		return nil
	}
	out := make([]TableEntry, 0, len(t.byServer))
	for id, pf := range t.byServer {
		out = append(out, TableEntry{Server: id, Pixel: pf})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out
}
