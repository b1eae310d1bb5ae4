package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type builtins struct{}

func (builtins) Profiles() (map[string]negotiate.Profile, error) {
	return negotiate.BuiltinProfiles(), nil
}

type fakeCapturer struct {
	format negotiate.StreamFormat
	frame  *image.RGBA
}

func (c *fakeCapturer) Start(context.Context) error { return nil }
func (c *fakeCapturer) Stop() error { return nil }
func (c *fakeCapturer) Format() (negotiate.StreamFormat, bool) {
	return c.format, c.format.Width > 0
}
func (c *fakeCapturer) LatestFrame() *image.RGBA { return c.frame }
func (c *fakeCapturer) CropFrame(x, y, width, height int) *image.RGBA { return nil }
func (c *fakeCapturer) Name() string { return "fake" }

type errorBody struct {
	Error  string                  `json:"error"`
	Stage  string                  `json:"stage"`
	Fatal  bool                    `json:"fatal"`
	Format *negotiate.StreamFormat `json:"format"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(builtins{}, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func formatPod(t *testing.T, format spa.VideoFormat, w, h uint32) []byte {
	t.Helper()
	pod, err := negotiate.BuildFormat(spa.NewBuilder(nil), format, spa.Rectangle{Width: w, Height: h}, spa.Fraction{Num: 60, Denom: 1})
	require.NoError(t, err)
	return pod
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestGetProfiles(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/profiles")
	require.NoError(t, err)
	defer resp.Body.Close()

	var views []struct {
		Name  string                    `json:"name"`
		Range negotiate.CapabilityRange `json:"range"`
		Table []negotiate.TableEntry    `json:"table"`
		Caps  string                    `json:"caps"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, negotiate.ProfileDesktop, views[0].Name)
	assert.Equal(t, negotiate.DesktopProfile().Range, views[0].Range)
	assert.Len(t, views[0].Table, 6)
	assert.True(t, strings.HasPrefix(views[1].Caps, "video/x-raw,"))
}

func TestGetOffer(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/profiles/desktop/offer")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	pod, err := spa.ParsePod(data)
	require.NoError(t, err)
	obj, err := pod.Object()
	require.NoError(t, err)
	assert.Equal(t, spa.ObjectTypeFormat, obj.Type)
	assert.Equal(t, spa.ParamEnumFormat, obj.ID)

	resp, err = http.Get(ts.URL + "/api/profiles/nope/offer")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFixatedOfferNegotiates(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/profiles/screencast/offer?fixate=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = post(t, ts.URL+"/api/profiles/screencast/negotiate", data)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sf negotiate.StreamFormat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sf))
	assert.Equal(t, negotiate.StreamFormat{
		PixelFormat:  negotiate.PixelFormatRGB,
		Width:        320,
		Height:       240,
		ServerFormat: spa.VideoFormatRGB,
		Framerate:    spa.Fraction{Num: 25, Denom: 1},
	}, sf)
}

func TestNegotiate(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/profiles/desktop/negotiate", formatPod(t, spa.VideoFormatBGRA, 1920, 1080))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sf negotiate.StreamFormat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sf))
	assert.Equal(t, negotiate.PixelFormatBGRA, sf.PixelFormat)
	assert.Equal(t, uint32(1920), sf.Width)
	assert.Equal(t, uint32(1080), sf.Height)
}

func TestNegotiateRejections(t *testing.T) {
	_, ts := newTestServer(t)

	audio := spa.NewBuilder(nil)
	audio.PushObject(spa.ObjectTypeFormat, spa.ParamFormat)
	audio.Prop(spa.FormatMediaType, 0)
	audio.ID(uint32(spa.MediaTypeAudio))
	audio.Prop(spa.FormatMediaSubtype, 0)
	audio.ID(uint32(spa.MediaSubtypeRaw))
	audio.Pop()
	audioPod, err := audio.Finish(0)
	require.NoError(t, err)

	truncated := formatPod(t, spa.VideoFormatBGRx, 1920, 1080)
	truncated = truncated[:len(truncated)-16]

	tests := []struct {
		name  string
		body  []byte
		stage string
		fatal bool
	}{
		{"empty", nil, "received", false},
		{"audio", audioPod, "type-checked", false},
		{"unmapped", formatPod(t, spa.VideoFormatI420, 1920, 1080), "format-mapped", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/api/profiles/desktop/negotiate", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.stage, body.Stage)
			assert.Equal(t, tt.fatal, body.Fatal)
			assert.NotEmpty(t, body.Error)
		})
	}

	t.Run("unmapped keeps format", func(t *testing.T) {
		resp := post(t, ts.URL+"/api/profiles/desktop/negotiate", formatPod(t, spa.VideoFormatI420, 1920, 1080))
		var body errorBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotNil(t, body.Format)
		assert.Equal(t, negotiate.PixelFormatUnknown, body.Format.PixelFormat)
		assert.Equal(t, uint32(1920), body.Format.Width)
	})

	t.Run("truncated", func(t *testing.T) {
		resp := post(t, ts.URL+"/api/profiles/desktop/negotiate", truncated)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		var body errorBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body.Error, negotiate.ErrMalformed.Error())
	})

	t.Run("unknown profile", func(t *testing.T) {
		resp := post(t, ts.URL+"/api/profiles/nope/negotiate", audioPod)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestFormatStream(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/formats/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Rejected formats are not broadcast.
	resp := post(t, ts.URL+"/api/profiles/desktop/negotiate", formatPod(t, spa.VideoFormatI420, 640, 480))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp = post(t, ts.URL+"/api/profiles/desktop/negotiate", formatPod(t, spa.VideoFormatBGRx, 1280, 720))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var sf negotiate.StreamFormat
	require.NoError(t, conn.ReadJSON(&sf))
	assert.Equal(t, negotiate.PixelFormatBGRX, sf.PixelFormat)
	assert.Equal(t, uint32(1280), sf.Width)

	conn.Close()
	require.Eventually(t, func() bool { return s.feed.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCaptureEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/capture/format")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	frame := image.NewRGBA(image.Rect(0, 0, 4, 2))
	s.SetCapturer(&fakeCapturer{
		format: negotiate.StreamFormat{PixelFormat: negotiate.PixelFormatBGRX, Width: 4, Height: 2, ServerFormat: spa.VideoFormatBGRx},
		frame:  frame,
	})

	resp, err = http.Get(ts.URL + "/api/capture/format")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sf negotiate.StreamFormat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sf))
	assert.Equal(t, negotiate.PixelFormatBGRX, sf.PixelFormat)

	resp, err = http.Get(ts.URL + "/api/capture/frame")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, frame.Bounds(), img.Bounds())
}

func TestFeedDropsForSlowListeners(t *testing.T) {
	f := NewFeed()
	ch := f.Subscribe()
	for i := 0; i < 20; i++ {
		f.Publish(negotiate.StreamFormat{Width: uint32(i + 1)})
	}
	assert.Len(t, ch, cap(ch))

	f.Unsubscribe(ch)
	assert.Equal(t, 0, f.Subscribers())
	// Drain what was buffered; the channel is closed afterwards.
	for range ch {
	}
}
