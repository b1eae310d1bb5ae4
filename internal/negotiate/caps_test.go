package negotiate

import (
	"testing"

	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapsString(t *testing.T) {
	assert.Equal(t,
		"video/x-raw,format=(string){RGB,RGBA,RGBx,BGRx,YUY2,I420},width=(int)[1,4096],height=(int)[1,4096],framerate=(fraction)[0/1,1000/1]",
		CapsString(ScreencastProfile().Range))

	r := DesktopProfile().Range
	r.Formats = []spa.VideoFormat{spa.VideoFormatBGRx, spa.VideoFormatBGRx}
	assert.Contains(t, CapsString(r), "format=(string)BGRx,")
}

func TestParseCaps(t *testing.T) {
	table := DesktopProfile().Table

	sf, err := ParseCaps("video/x-raw, format=(string)BGRA, width=(int)1920, height=(int)1080, framerate=(fraction)60/1, pixel-aspect-ratio=(fraction)1/1", table)
	require.NoError(t, err)
	assert.Equal(t, StreamFormat{
		PixelFormat:  PixelFormatBGRA,
		Width:        1920,
		Height:       1080,
		ServerFormat: spa.VideoFormatBGRA,
		Framerate:    spa.Fraction{Num: 60, Denom: 1},
	}, sf)

	sf, err = ParseCaps("video/x-raw,format=I420,width=640,height=480", table)
	require.NoError(t, err)
	assert.Equal(t, PixelFormatUnknown, sf.PixelFormat)
	assert.Equal(t, spa.VideoFormatI420, sf.ServerFormat)
	assert.Equal(t, uint32(640), sf.Width)
	assert.Zero(t, sf.Framerate)
}

func TestParseCapsRejections(t *testing.T) {
	table := DesktopProfile().Table

	tests := []struct {
		name  string
		caps  string
		err   error
		stage State
	}{
		{"empty", "", ErrMalformed, StateReceived},
		{"no subtype", "video", ErrMalformed, StateReceived},
		{"audio", "audio/x-raw, format=(string)S16LE, rate=(int)48000", ErrWrongMediaType, StateTypeChecked},
		{"encoded", "video/x-h264, width=(int)1920, height=(int)1080", ErrWrongSubtype, StateSubtypeChecked},
		{"no format", "video/x-raw, width=(int)1920, height=(int)1080", ErrMalformed, StatePayloadParsed},
		{"unfixed width", "video/x-raw, format=(string)BGRx, width=(int)[ 1, 4096 ], height=(int)1080", ErrMalformed, StatePayloadParsed},
		{"no height", "video/x-raw, format=(string)BGRx, width=(int)1920", ErrMalformed, StatePayloadParsed},
		{"bad framerate", "video/x-raw, format=(string)BGRx, width=(int)1, height=(int)1, framerate=(fraction)fast", ErrMalformed, StatePayloadParsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCaps(tt.caps, table)
			require.ErrorIs(t, err, tt.err)
			var ne *NegotiationError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, tt.stage, ne.Stage)
			assert.Equal(t, tt.stage >= StatePayloadParsed, IsFatal(err))
		})
	}
}
