package negotiate

import (
	"errors"

	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
)

// StreamFormat is the outcome of one negotiation round. It holds copies of
// every scalar it needs and never refers back to the parameter object.
type StreamFormat struct {
	PixelFormat  PixelFormat     `json:"pixel_format"`
	Width        uint32          `json:"width"`
	Height       uint32          `json:"height"`
	ServerFormat spa.VideoFormat `json:"server_format"`
	// Framerate is zero when the server did not send one.
	Framerate spa.Fraction `json:"framerate"`
}

// Validate reports whether a capture pipeline can consume f. An Unknown pixel
// format must be rejected rather than guessed.
func (f StreamFormat) Validate() error {
	if f.PixelFormat == PixelFormatUnknown {
		return &NegotiationError{Stage: StateFormatMapped, Err: ErrUnsupportedFormat, Detail: f.ServerFormat.String()}
	}
	if f.Width == 0 || f.Height == 0 {
		return &NegotiationError{Stage: StatePayloadParsed, Err: ErrMalformed, Detail: "zero frame size"}
	}
	return nil
}

// Parse decodes a server-chosen Format object. The gates run in order and
// none is skipped: the payload is never read until the object has been
// confirmed to be video/raw. An unmapped pixel format is not an error; the
// result carries PixelFormatUnknown with the geometry intact.
//
// param is only read during the call.
func Parse(param []byte, table *FormatTable) (StreamFormat, error) {
	obj, mediaType, mediaSubtype, err := parseHeader(param)
	if err != nil {
		return StreamFormat{}, reject(StateReceived, ErrMalformed, "%v", err)
	}

	if spa.MediaType(mediaType) != spa.MediaTypeVideo {
		return StreamFormat{}, reject(StateTypeChecked, ErrWrongMediaType, "%s", spa.MediaType(mediaType))
	}
	if spa.MediaSubtype(mediaSubtype) != spa.MediaSubtypeRaw {
		return StreamFormat{}, reject(StateSubtypeChecked, ErrWrongSubtype, "%s", spa.MediaSubtype(mediaSubtype))
	}

	sf, err := parseVideoRaw(obj)
	if err != nil {
		return StreamFormat{}, reject(StatePayloadParsed, ErrMalformed, "%v", err)
	}

	logger.WithComponent("negotiate").Debug().
		Uint32("width", sf.Width).
		Uint32("height", sf.Height).
		Stringer("server_format", sf.ServerFormat).
		Msg("Parsed video format")

	sf.PixelFormat = table.Map(sf.ServerFormat)
	return sf, nil
}

func parseHeader(param []byte) (spa.Object, uint32, uint32, error) {
	pod, err := spa.ParsePod(param)
	if err != nil {
		return spa.Object{}, 0, 0, err
	}
	obj, err := pod.Object()
	if err != nil {
		return spa.Object{}, 0, 0, err
	}
	if obj.Type != spa.ObjectTypeFormat {
		return spa.Object{}, 0, 0, errors.New("object is not a format")
	}
	mediaType, err := propID(obj, spa.FormatMediaType)
	if err != nil {
		return spa.Object{}, 0, 0, err
	}
	mediaSubtype, err := propID(obj, spa.FormatMediaSubtype)
	if err != nil {
		return spa.Object{}, 0, 0, err
	}
	return obj, mediaType, mediaSubtype, nil
}

func parseVideoRaw(obj spa.Object) (StreamFormat, error) {
	format, err := propID(obj, spa.FormatVideoFormat)
	if err != nil {
		return StreamFormat{}, err
	}

	v, err := propValue(obj, spa.FormatVideoSize)
	if err != nil {
		return StreamFormat{}, err
	}
	size, err := v.Rectangle()
	if err != nil {
		return StreamFormat{}, err
	}

	sf := StreamFormat{
		ServerFormat: spa.VideoFormat(format),
		Width:        size.Width,
		Height:       size.Height,
	}

	v, err = propValue(obj, spa.FormatVideoFramerate)
	switch {
	case errors.Is(err, spa.ErrPropNotFound):
	case err != nil:
		return StreamFormat{}, err
	default:
		if sf.Framerate, err = v.Fraction(); err != nil {
			return StreamFormat{}, err
		}
	}
	return sf, nil
}

// propValue finds key and resolves a choice to its default value.
func propValue(obj spa.Object, key uint32) (spa.Value, error) {
	prop, err := obj.Find(key)
	if err != nil {
		return spa.Value{}, err
	}
	return prop.Value.Value().Fixed()
}

func propID(obj spa.Object, key uint32) (uint32, error) {
	v, err := propValue(obj, key)
	if err != nil {
		return 0, err
	}
	return v.ID()
}
