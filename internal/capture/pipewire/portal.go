package pipewire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Portal handles xdg-desktop-portal screen sharing via D-Bus
type Portal struct {
	conn          *dbus.Conn
	sessionHandle dbus.ObjectPath
	nodeID        uint32
	mu            sync.Mutex
	restoreToken  string
	tokenPath     string
	requestSeq    int
}

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor = 1 << 0
	SourceTypeWindow  = 1 << 1
	SourceTypeVirtual = 1 << 2
)

// Cursor modes for SelectSources
const (
	CursorModeHidden   = 1 << 0
	CursorModeEmbedded = 1 << 1
	CursorModeMetadata = 1 << 2
)

// Persist modes for SelectSources
const (
	PersistModeNone        = 0
	PersistModeApplication = 1
	PersistModeSession     = 2
)

// ErrRequestDenied is returned when the user or the compositor refuses a
// portal request.
var ErrRequestDenied = errors.New("portal request denied")

// SourceTypes converts source names ("monitor", "window", "virtual") into
// the SelectSources bitmask.
func SourceTypes(names []string) (uint32, error) {
	var types uint32
	for _, name := range names {
		switch strings.ToLower(name) {
		case "monitor":
			types |= SourceTypeMonitor
		case "window":
			types |= SourceTypeWindow
		case "virtual":
			types |= SourceTypeVirtual
		default:
			return 0, fmt.Errorf("unknown source type %q", name)
		}
	}
	if types == 0 {
		types = SourceTypeMonitor
	}
	return types, nil
}

// NewPortal connects to the session bus. The restore token is kept next to
// the config file so later sessions can skip the dialog.
func NewPortal() (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}

	p := &Portal{
		conn:      conn,
		tokenPath: filepath.Join(configDir, "pwnegotiator", "portal_token"),
	}
	p.loadRestoreToken()

	return p, nil
}

// Close closes the portal session and connection
func (p *Portal) Close() error {
	if p.sessionHandle != "" {
		p.conn.Object(portalService, p.sessionHandle).Call(sessionIface+".Close", 0)
	}
	return p.conn.Close()
}

// NodeID returns the PipeWire node ID for screen capture
func (p *Portal) NodeID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeID
}

// StartScreenShare runs CreateSession, SelectSources and Start. Each step
// waits for the portal's Response signal until ctx is done; the user may be
// looking at a dialog for a while.
func (p *Portal) StartScreenShare(ctx context.Context, sourceTypes uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.WithComponent("portal")

	results, err := p.request(ctx, "CreateSession", map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(p.token("session")),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	switch v := results["session_handle"].Value().(type) {
	case dbus.ObjectPath:
		p.sessionHandle = v
	case string:
		p.sessionHandle = dbus.ObjectPath(v)
	default:
		return 0, fmt.Errorf("unexpected session_handle type: %T", v)
	}
	log.Debug().Str("session", string(p.sessionHandle)).Msg("Created portal session")

	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(sourceTypes),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(CursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(PersistModeSession)),
	}
	if p.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
		log.Debug().Msg("Using saved restore token")
	}
	if _, err := p.request(ctx, "SelectSources", options, p.sessionHandle); err != nil {
		return 0, fmt.Errorf("failed to select sources: %w", err)
	}
	log.Debug().Uint32("types", sourceTypes).Msg("Selected sources")

	results, err = p.request(ctx, "Start", map[string]dbus.Variant{}, p.sessionHandle, "")
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}

	if v, ok := results["restore_token"]; ok {
		if token, ok := v.Value().(string); ok {
			p.restoreToken = token
			p.saveRestoreToken()
			log.Debug().Msg("Saved restore token for future sessions")
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in response")
	}
	nodeID, err := firstNodeID(streams.Value())
	if err != nil {
		return 0, err
	}
	p.nodeID = nodeID
	log.Info().Uint32("node_id", nodeID).Msg("Screen sharing started")

	return nodeID, nil
}

// request calls a ScreenCast method and waits for the matching Response.
// args precede the options dict in the call; handle_token is added to
// options so the request path is known before the call returns.
func (p *Portal) request(ctx context.Context, method string, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")

	token := p.token(strings.ToLower(method))
	options["handle_token"] = dbus.MakeVariant(token)
	expected := p.requestPath(token)

	// Subscribe BEFORE making the call
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
		dbus.WithMatchObjectPath(expected),
	); err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	defer p.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
		dbus.WithMatchObjectPath(expected),
	)

	responseChan := make(chan *dbus.Signal, 10)
	p.conn.Signal(responseChan)
	defer p.conn.RemoveSignal(responseChan)

	var requestPath dbus.ObjectPath
	callArgs := append(args, options)
	obj := p.conn.Object(portalService, portalPath)
	if err := obj.CallWithContext(ctx, screenCastIface+"."+method, 0, callArgs...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	log.Info().
		Str("method", method).
		Str("request_path", string(requestPath)).
		Msg("Waiting for portal response (a dialog may appear)")

	for {
		select {
		case <-ctx.Done():
			p.conn.Object(portalService, requestPath).Call(requestIface+".Close", 0)
			return nil, fmt.Errorf("waiting for %s response: %w", method, ctx.Err())
		case sig := <-responseChan:
			if sig.Name != requestIface+".Response" || (sig.Path != requestPath && sig.Path != expected) {
				continue
			}
			return responseResults(method, sig.Body)
		}
	}
}

func (p *Portal) token(prefix string) string {
	p.requestSeq++
	return fmt.Sprintf("pwnegotiator_%s_%d_%d", prefix, os.Getpid(), p.requestSeq)
}

// requestPath predicts the Request object path from the caller's unique
// name, as documented for org.freedesktop.portal.Request.
func (p *Portal) requestPath(token string) dbus.ObjectPath {
	names := p.conn.Names()
	if len(names) == 0 {
		return ""
	}
	sender := strings.ReplaceAll(strings.TrimPrefix(names[0], ":"), ".", "_")
	return dbus.ObjectPath(portalPath + "/request/" + sender + "/" + token)
}

// responseResults decodes the (ua{sv}) body of a Request.Response signal.
// Any non-zero code means the user cancelled or the portal failed.
func responseResults(method string, body []interface{}) (map[string]dbus.Variant, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("invalid %s response", method)
	}
	code, ok := body[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("invalid %s response: code is %T", method, body[0])
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrRequestDenied, method, code)
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("invalid %s response: results are %T", method, body[1])
	}
	return results, nil
}

// firstNodeID extracts the node of the first stream from a(ua{sv}).
func firstNodeID(streams interface{}) (uint32, error) {
	switch v := streams.(type) {
	case [][]interface{}:
		if len(v) > 0 && len(v[0]) > 0 {
			if nodeID, ok := v[0][0].(uint32); ok {
				return nodeID, nil
			}
		}
	case []interface{}:
		if len(v) > 0 {
			if stream, ok := v[0].([]interface{}); ok && len(stream) > 0 {
				if nodeID, ok := stream[0].(uint32); ok {
					return nodeID, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("unexpected streams format %T", streams)
}

type savedToken struct {
	Token string `json:"token"`
}

// loadRestoreToken loads the restore token from disk
func (p *Portal) loadRestoreToken() {
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return
	}

	var token savedToken
	if err := json.Unmarshal(data, &token); err != nil {
		return
	}
	p.restoreToken = token.Token
}

// saveRestoreToken saves the restore token to disk
func (p *Portal) saveRestoreToken() {
	if p.restoreToken == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(p.tokenPath), 0755); err != nil {
		return
	}

	data, err := json.Marshal(savedToken{Token: p.restoreToken})
	if err != nil {
		return
	}

	if err := os.WriteFile(p.tokenPath, data, 0600); err != nil {
		logger.WithComponent("portal").Warn().Err(err).Msg("Failed to save restore token")
	}
}
