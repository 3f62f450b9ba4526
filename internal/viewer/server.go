// Package viewer hosts isolated surfaces: each deck is served as a complete
// sandboxed document over local HTTP, and driven over a WebSocket control
// channel that only the embedded control script can open.
package viewer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roasbeef/deckview/internal/playback"
)

// DefaultAddr binds the viewer to an ephemeral loopback port.
const DefaultAddr = "127.0.0.1:0"

// helloWait bounds how long a new control connection has to announce
// itself.
const helloWait = 10 * time.Second

// surfaceCSP runs the document in an opaque origin: scripts may run but the
// document can reach nothing of the host's.
const surfaceCSP = "sandbox allow-scripts"

//go:embed static/control.js
var controlScript []byte

// Config holds configuration for the viewer server.
type Config struct {
	Addr string

	// AllowedOrigins lists extra Origin values accepted on control
	// connections. Sandboxed documents always present "null".
	AllowedOrigins []string
}

// DefaultConfig returns the default viewer configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr: DefaultAddr,
	}
}

// Server is the local HTTP server behind every surface.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu       sync.Mutex
	surfaces map[string]*Surface
	srv      *http.Server
	baseURL  string
}

// NewServer creates a viewer server. Call Start before handing out URLs.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		cfg:      *cfg,
		mux:      http.NewServeMux(),
		surfaces: make(map[string]*Surface),
	}
	if s.cfg.Addr == "" {
		s.cfg.Addr = DefaultAddr
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.mux.HandleFunc("GET /surface/{id}", s.handleSurface)
	s.mux.HandleFunc("GET /control.js", s.handleControlScript)
	s.mux.HandleFunc("GET /ws/{id}", s.handleControl)

	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.baseURL = "http://" + ln.Addr().String()
	s.mu.Unlock()

	log.Infof("Viewer listening on %s", ln.Addr())

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("Viewer server stopped: %v", err)
		}
	}()

	return nil
}

// BaseURL returns the server's root URL, empty before Start.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.baseURL
}

// Shutdown releases every surface and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	surfaces := make([]*Surface, 0, len(s.surfaces))
	for _, surface := range s.surfaces {
		surfaces = append(surfaces, surface)
	}
	srv := s.srv
	s.mu.Unlock()

	for _, surface := range surfaces {
		_ = surface.Release()
	}

	if srv != nil {
		return srv.Shutdown(ctx)
	}

	return nil
}

// NewSurface registers a fresh surface.
func (s *Server) NewSurface() *Surface {
	surface := newSurface(s)

	s.mu.Lock()
	s.surfaces[surface.id] = surface
	s.mu.Unlock()

	return surface
}

// URL returns the address a browser opens to show surface.
func (s *Server) URL(surface *Surface) string {
	q := url.Values{}
	q.Set("token", surface.token)

	return fmt.Sprintf("%s/surface/%s?%s", s.BaseURL(),
		url.PathEscape(surface.id), q.Encode())
}

func (s *Server) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.surfaces, id)
}

// lookup resolves the surface named in r and checks its token.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *Surface {
	s.mu.Lock()
	surface, ok := s.surfaces[r.PathValue("id")]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return nil
	}
	if !surface.authorize(r.URL.Query().Get("token")) {
		log.Warnf("Rejected request for surface %s: bad token",
			surface.id)
		http.Error(w, "forbidden", http.StatusForbidden)

		return nil
	}

	return surface
}

// handleSurface serves the surface document inside the sandbox.
func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	surface := s.lookup(w, r)
	if surface == nil {
		return
	}

	markup, ok := surface.document()
	if !ok {
		http.Error(w, "surface not loaded", http.StatusServiceUnavailable)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Security-Policy", surfaceCSP)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	h.Set("Referrer-Policy", "no-referrer")

	doc := injectControl(markup, surface.id, surface.token)
	if _, err := w.Write([]byte(doc)); err != nil {
		log.Debugf("Write surface %s: %v", surface.id, err)
		return
	}

	surface.markLoaded()
}

// handleControlScript serves the embedded control script.
func (s *Server) handleControlScript(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/javascript; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-cache")

	_, _ = w.Write(controlScript)
}

// handleControl upgrades a surface's control connection. The connection
// must present the surface token, come from an allowed origin and open with
// a hello.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	surface := s.lookup(w, r)
	if surface == nil {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("Control upgrade for surface %s failed: %v",
			surface.id, err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	_, data, err := conn.ReadMessage()
	if err == nil {
		_, err = playback.DecodeSurfaceMessage(data)
	}
	if err != nil {
		log.Warnf("Surface %s opened without hello: %v", surface.id,
			err)

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(
				websocket.ClosePolicyViolation, "expected hello",
			), time.Now().Add(writeWait))
		conn.Close()

		return
	}

	cc := newControlConn(conn, surface.id)
	cc.start()

	if !surface.offer(cc) {
		log.Debugf("Surface %s already has a control channel",
			surface.id)
		cc.Close()
	}
}

// checkOrigin admits the sandbox's opaque origin, the viewer's own origin
// and any configured extras. Requests without an Origin are not from a
// browser document and rely on the token alone.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	switch origin {
	case "", "null", "http://" + r.Host:
		return true
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	log.Warnf("Rejected control connection from origin %q", origin)

	return false
}

// injectControl places the control script tag at the end of the document
// body, or at the end of the document when it has no closing body tag.
func injectControl(markup, id, token string) string {
	q := url.Values{}
	q.Set("surface", id)
	q.Set("token", token)

	tag := `<script src="/control.js?` +
		strings.ReplaceAll(q.Encode(), "&", "&amp;") + `"></script>`

	idx := lastIndexFold(markup, "</body>")
	if idx < 0 {
		return markup + tag
	}

	return markup[:idx] + tag + markup[idx:]
}

// lastIndexFold is strings.LastIndex with ASCII case folding.
func lastIndexFold(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}

	return -1
}
