package spa

import (
	"fmt"
	"strconv"
	"strings"
)

// Type describes the kind of data encoded right after a POD header.
type Type uint32

// Basic and container types, numbered as in spa/utils/type.h.
const (
	TypeStart Type = iota
	TypeNone
	TypeBool
	TypeID
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeString
	TypeBytes
	TypeRectangle
	TypeFraction
	TypeBitmap
	TypeArray
	TypeStruct
	TypeObject
	TypeSequence
	TypePointer
	TypeFd
	TypeChoice
	TypePod
)

var typeNames = map[Type]string{
	TypeNone:      "None",
	TypeBool:      "Bool",
	TypeID:        "Id",
	TypeInt:       "Int",
	TypeLong:      "Long",
	TypeFloat:     "Float",
	TypeDouble:    "Double",
	TypeString:    "String",
	TypeBytes:     "Bytes",
	TypeRectangle: "Rectangle",
	TypeFraction:  "Fraction",
	TypeBitmap:    "Bitmap",
	TypeArray:     "Array",
	TypeStruct:    "Struct",
	TypeObject:    "Object",
	TypeSequence:  "Sequence",
	TypePointer:   "Pointer",
	TypeFd:        "Fd",
	TypeChoice:    "Choice",
	TypePod:       "Pod",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("invalid type field %#x", uint32(t))
}

// ObjectType identifies the schema of an Object POD.
type ObjectType uint32

// Object types.
const (
	ObjectTypeStart ObjectType = 0x40000 + iota
	ObjectTypePropInfo
	ObjectTypeProps
	ObjectTypeFormat
	ObjectTypeParamBuffers
	ObjectTypeParamMeta
)

// ParamID says which parameter an object describes.
type ParamID uint32

// Parameter ids.
const (
	ParamInvalid ParamID = iota
	ParamPropInfo
	ParamProps
	ParamEnumFormat
	ParamFormat
	ParamBuffers
	ParamMeta
)

// ChoiceType is the kind of a Choice POD.
type ChoiceType uint32

// Choice kinds. The first child value of every choice is its default.
const (
	ChoiceNone ChoiceType = iota
	ChoiceRange
	ChoiceStep
	ChoiceEnum
	ChoiceFlags
)

func (c ChoiceType) String() string {
	switch c {
	case ChoiceNone:
		return "None"
	case ChoiceRange:
		return "Range"
	case ChoiceStep:
		return "Step"
	case ChoiceEnum:
		return "Enum"
	case ChoiceFlags:
		return "Flags"
	default:
		return fmt.Sprintf("ChoiceType(%d)", uint32(c))
	}
}

// Format object property keys.
const (
	FormatMediaType    uint32 = 1
	FormatMediaSubtype uint32 = 2

	FormatVideoFormat    uint32 = 0x20001
	FormatVideoModifier  uint32 = 0x20002
	FormatVideoSize      uint32 = 0x20003
	FormatVideoFramerate uint32 = 0x20004
)

// MediaType is the top-level kind of a format object.
type MediaType uint32

// Media types.
const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
	MediaTypeImage
	MediaTypeBinary
	MediaTypeStream
	MediaTypeApplication
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeUnknown:
		return "unknown"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	case MediaTypeImage:
		return "image"
	case MediaTypeBinary:
		return "binary"
	case MediaTypeStream:
		return "stream"
	case MediaTypeApplication:
		return "application"
	default:
		return fmt.Sprintf("MediaType(%d)", uint32(m))
	}
}

// MediaSubtype refines a MediaType.
type MediaSubtype uint32

// Media subtypes shared by all media types.
const (
	MediaSubtypeUnknown MediaSubtype = iota
	MediaSubtypeRaw
	MediaSubtypeDSP
	MediaSubtypeIEC958
	MediaSubtypeDSD
)

// Encoded video subtypes start here.
const MediaSubtypeStartVideo MediaSubtype = 0x20000

func (m MediaSubtype) String() string {
	switch m {
	case MediaSubtypeUnknown:
		return "unknown"
	case MediaSubtypeRaw:
		return "raw"
	case MediaSubtypeDSP:
		return "dsp"
	case MediaSubtypeIEC958:
		return "iec958"
	case MediaSubtypeDSD:
		return "dsd"
	default:
		return fmt.Sprintf("MediaSubtype(%#x)", uint32(m))
	}
}

// VideoFormat is the server's pixel format identifier. The enumeration is
// open: values without a name are still valid and round-trip through text as
// "VideoFormat(N)".
type VideoFormat uint32

// Video formats from spa/param/video/raw.h.
const (
	VideoFormatUnknown VideoFormat = iota
	VideoFormatEncoded
	VideoFormatI420
	VideoFormatYV12
	VideoFormatYUY2
	VideoFormatUYVY
	VideoFormatAYUV
	VideoFormatRGBx
	VideoFormatBGRx
	VideoFormatxRGB
	VideoFormatxBGR
	VideoFormatRGBA
	VideoFormatBGRA
	VideoFormatARGB
	VideoFormatABGR
	VideoFormatRGB
	VideoFormatBGR
	VideoFormatY41B
	VideoFormatY42B
	VideoFormatYVYU
	VideoFormatY444
	VideoFormatV210
	VideoFormatV216
	VideoFormatNV12
	VideoFormatNV21
	VideoFormatGRAY8
)

var videoFormatNames = []string{
	"UNKNOWN", "ENCODED", "I420", "YV12", "YUY2", "UYVY", "AYUV",
	"RGBx", "BGRx", "xRGB", "xBGR", "RGBA", "BGRA", "ARGB", "ABGR",
	"RGB", "BGR", "Y41B", "Y42B", "YVYU", "Y444", "v210", "v216",
	"NV12", "NV21", "GRAY8",
}

func (f VideoFormat) String() string {
	if int(f) < len(videoFormatNames) {
		return videoFormatNames[f]
	}
	return "VideoFormat(" + strconv.FormatUint(uint64(f), 10) + ")"
}

// ParseVideoFormat is the inverse of VideoFormat.String. Names are matched
// exactly first, then case-insensitively, since GStreamer and PipeWire spell
// them identically but configs are typed by hand.
func ParseVideoFormat(s string) (VideoFormat, error) {
	for i, name := range videoFormatNames {
		if name == s {
			return VideoFormat(i), nil
		}
	}
	for i, name := range videoFormatNames {
		if strings.EqualFold(name, s) {
			return VideoFormat(i), nil
		}
	}
	if inner, ok := strings.CutPrefix(s, "VideoFormat("); ok {
		if num, ok := strings.CutSuffix(inner, ")"); ok {
			v, err := strconv.ParseUint(num, 10, 32)
			if err == nil {
				return VideoFormat(v), nil
			}
		}
	}
	return 0, fmt.Errorf("unknown video format %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f VideoFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *VideoFormat) UnmarshalText(text []byte) error {
	v, err := ParseVideoFormat(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Rectangle is a width/height pair.
type Rectangle struct {
	Width  uint32 `json:"width" yaml:"width"`
	Height uint32 `json:"height" yaml:"height"`
}

func (r Rectangle) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Fraction is a rational number, used for frame rates. It marshals as
// "num/denom" text.
type Fraction struct {
	Num   uint32
	Denom uint32
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Denom)
}

// Compare returns -1, 0 or 1 comparing f and g by value. Both denominators
// must be non-zero.
func (f Fraction) Compare(g Fraction) int {
	l := uint64(f.Num) * uint64(g.Denom)
	r := uint64(g.Num) * uint64(f.Denom)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

// ParseFraction parses "num/denom". A bare number means num/1.
func ParseFraction(s string) (Fraction, error) {
	num, denom, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 32)
	if err != nil {
		return Fraction{}, fmt.Errorf("invalid fraction %q: %w", s, err)
	}
	d := uint64(1)
	if found {
		d, err = strconv.ParseUint(strings.TrimSpace(denom), 10, 32)
		if err != nil {
			return Fraction{}, fmt.Errorf("invalid fraction %q: %w", s, err)
		}
	}
	return Fraction{Num: uint32(n), Denom: uint32(d)}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (f Fraction) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fraction) UnmarshalText(text []byte) error {
	v, err := ParseFraction(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
