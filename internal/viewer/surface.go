package viewer

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/roasbeef/deckview/internal/playback"
)

// ErrSurfaceReleased is returned when using a released surface.
var ErrSurfaceReleased = errors.New("surface released")

// Surface is one isolated document hosted by the viewer. It is addressed by
// an id and guarded by a capability token; only a holder of the token can
// fetch the document or open its control channel.
type Surface struct {
	id    string
	token string
	srv   *Server

	mu       sync.Mutex
	markup   string
	assigned bool
	released bool
	conn     *controlConn

	loaded     chan struct{}
	loadedOnce sync.Once

	// hello carries the first control connection that announced itself.
	hello chan *controlConn
}

// Compile-time check that Surface is a playback surface.
var _ playback.Surface = (*Surface)(nil)

func newSurface(srv *Server) *Surface {
	return &Surface{
		id:     uuid.NewString(),
		token:  uuid.NewString(),
		srv:    srv,
		loaded: make(chan struct{}),
		hello:  make(chan *controlConn, 1),
	}
}

// ID returns the surface id.
func (s *Surface) ID() string {
	return s.id
}

// Load assigns markup as the complete document of the surface.
//
// NOTE: This implements the playback.Surface interface.
func (s *Surface) Load(_ context.Context, markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrSurfaceReleased
	}

	s.markup = markup
	s.assigned = true

	return nil
}

// Loaded is closed the first time the document is served.
//
// NOTE: This implements the playback.Surface interface.
func (s *Surface) Loaded() <-chan struct{} {
	return s.loaded
}

// Attach waits for the document's control script to connect and say hello.
// After a reload the new document says hello again, so Attach may be called
// once per document.
//
// NOTE: This implements the playback.Surface interface.
func (s *Surface) Attach(
	ctx context.Context) (playback.ControlChannel, error) {

	for {
		select {
		case conn := <-s.hello:
			s.mu.Lock()
			if s.released {
				s.mu.Unlock()
				conn.Close()

				return nil, ErrSurfaceReleased
			}

			// The page went away again before we got to it.
			if conn.isClosed() {
				s.mu.Unlock()
				continue
			}
			s.conn = conn
			s.mu.Unlock()

			go s.watch(conn)

			log.Debugf("Surface %s attached", s.id)

			return conn, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("no hello from surface %s: %w",
				s.id, ctx.Err())
		}
	}
}

// watch frees the surface for a new hello once conn is gone.
func (s *Surface) watch(conn *controlConn) {
	<-conn.Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == conn {
		s.conn = nil
		log.Debugf("Surface %s control channel gone", s.id)
	}
}

// Release unregisters the surface and closes any control connection.
//
// NOTE: This implements the playback.Surface interface.
func (s *Surface) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.srv.forget(s.id)

	if conn != nil {
		conn.Close()
	}

	// A connection that said hello after Attach gave up.
	select {
	case pending := <-s.hello:
		pending.Close()
	default:
	}

	log.Debugf("Surface %s released", s.id)

	return nil
}

// authorize reports whether token is the surface's capability.
func (s *Surface) authorize(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// document returns the assigned markup, if any.
func (s *Surface) document() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released || !s.assigned {
		return "", false
	}

	return s.markup, true
}

func (s *Surface) markLoaded() {
	s.loadedOnce.Do(func() {
		log.Debugf("Surface %s loaded", s.id)
		close(s.loaded)
	})
}

// offer hands a freshly announced connection to the surface. It is refused
// while another connection is attached.
func (s *Surface) offer(conn *controlConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released || (s.conn != nil && !s.conn.isClosed()) {
		return false
	}

	select {
	case s.hello <- conn:
		return true
	default:
		return false
	}
}
