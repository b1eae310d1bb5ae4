package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/pwnegotiator/internal/capture"
	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// maxParamSize bounds negotiate request bodies. Format objects are a few
// hundred bytes.
const maxParamSize = 64 << 10

// ProfileStore resolves negotiation profiles by name
type ProfileStore interface {
	Profiles() (map[string]negotiate.Profile, error)
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	profiles ProfileStore
	feed     *Feed
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	capturer   capture.Capturer
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(profiles ProfileStore, feed *Feed) *Server {
	if feed == nil {
		feed = NewFeed()
	}
	s := &Server{
		router:   mux.NewRouter(),
		profiles: profiles,
		feed:     feed,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Diagnostic API, any origin
			},
		},
	}

	s.setupRoutes()
	return s
}

// SetCapturer exposes a running capturer's format and frames
func (s *Server) SetCapturer(c capture.Capturer) {
	s.mu.Lock()
	s.capturer = c
	s.mu.Unlock()
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Profiles and negotiation
	api.HandleFunc("/profiles", s.handleGetProfiles).Methods("GET")
	api.HandleFunc("/profiles/{name}/offer", s.handleGetOffer).Methods("GET")
	api.HandleFunc("/profiles/{name}/negotiate", s.handleNegotiate).Methods("POST")

	// Accepted formats
	api.HandleFunc("/formats/stream", s.handleFormatStream)

	// Live capture
	api.HandleFunc("/capture/format", s.handleCaptureFormat).Methods("GET")
	api.HandleFunc("/capture/frame", s.handleCaptureFrame).Methods("GET")
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ProfileView is the JSON form of a profile
type ProfileView struct {
	Name  string                    `json:"name"`
	Range negotiate.CapabilityRange `json:"range"`
	Table []negotiate.TableEntry    `json:"table"`
	Caps  string                    `json:"caps"`
}

// ErrorResponse describes a failed negotiation
type ErrorResponse struct {
	Error  string                  `json:"error"`
	Stage  *negotiate.State        `json:"stage,omitempty"`
	Fatal  bool                    `json:"fatal"`
	Format *negotiate.StreamFormat `json:"format,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) (negotiate.Profile, bool) {
	name := mux.Vars(r)["name"]
	profiles, err := s.profiles.Profiles()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return negotiate.Profile{}, false
	}
	p, ok := profiles[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("profile not found: %s", name)})
		return negotiate.Profile{}, false
	}
	return p, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (s *Server) handleGetProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.Profiles()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]ProfileView, 0, len(profiles))
	for _, name := range negotiate.ProfileNames(profiles) {
		p := profiles[name]
		views = append(views, ProfileView{
			Name:  p.Name,
			Range: p.Range,
			Table: p.Table.Entries(),
			Caps:  negotiate.CapsString(p.Range),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}

	var (
		pod spa.Pod
		err error
	)
	if r.URL.Query().Get("fixate") != "" {
		pod, err = negotiate.Fixate(spa.NewBuilder(nil), p.Range)
	} else {
		var n *negotiate.Negotiator
		if n, err = negotiate.New(p); err == nil {
			pod, err = n.Offer(nil)
		}
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(pod)
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	n, err := negotiate.New(p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	param, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxParamSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	sf, err := n.Decode(param)
	if err == nil {
		err = sf.Validate()
	}
	if err != nil {
		resp := ErrorResponse{Error: err.Error(), Fatal: negotiate.IsFatal(err)}
		var ne *negotiate.NegotiationError
		if errors.As(err, &ne) {
			resp.Stage = &ne.Stage
		}
		if errors.Is(err, negotiate.ErrUnsupportedFormat) {
			resp.Format = &sf
		}
		log.Debug().Err(err).Str("profile", p.Name).Msg("Negotiation rejected")
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Info().
		Str("profile", p.Name).
		Stringer("pixel_format", sf.PixelFormat).
		Uint32("width", sf.Width).
		Uint32("height", sf.Height).
		Msg("Format accepted")
	s.feed.Publish(sf)
	writeJSON(w, http.StatusOK, sf)
}

func (s *Server) handleFormatStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.feed.Subscribe()
	defer s.feed.Unsubscribe(updates)

	// The client only listens; reading detects when it goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the live capture format first, if any
	s.mu.RLock()
	c := s.capturer
	s.mu.RUnlock()
	if c != nil {
		if current, ok := c.Format(); ok {
			if err := conn.WriteJSON(current); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}

	for {
		select {
		case <-closed:
			return
		case sf, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(sf); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleCaptureFormat(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	c := s.capturer
	s.mu.RUnlock()

	if c == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "capture not running"})
		return
	}
	sf, ok := c.Format()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no format negotiated yet"})
		return
	}
	writeJSON(w, http.StatusOK, sf)
}

func (s *Server) handleCaptureFrame(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	c := s.capturer
	s.mu.RUnlock()

	if c == nil {
		http.Error(w, "capture not running", http.StatusNotFound)
		return
	}
	frame := c.LatestFrame()
	if frame == nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, frame); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write frame")
	}
}
