package viewer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roasbeef/deckview/internal/playback"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the surface. Only a hello is
	// ever expected.
	maxMessageSize = 512

	// Size of the outbound command buffer.
	sendBufferSize = 16
)

// ErrChannelClosed is returned when sending on a detached channel.
var ErrChannelClosed = errors.New("control channel closed")

// controlConn is the host side of one surface's control channel.
type controlConn struct {
	conn      *websocket.Conn
	surfaceID string

	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Compile-time check that controlConn is a control channel.
var _ playback.ControlChannel = (*controlConn)(nil)

func newControlConn(conn *websocket.Conn, surfaceID string) *controlConn {
	return &controlConn{
		conn:      conn,
		surfaceID: surfaceID,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
}

// start runs the read and write pumps.
func (c *controlConn) start() {
	go c.writePump()
	go c.readPump()
}

// Send queues a command for the surface.
//
// NOTE: This implements the playback.ControlChannel interface.
func (c *controlConn) Send(cmd playback.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for surface %s",
			c.surfaceID)
	}
}

// Close detaches the channel. It is safe to call more than once.
//
// NOTE: This implements the playback.ControlChannel interface.
func (c *controlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.send)
	close(c.done)

	return c.conn.Close()
}

// Done is closed once the channel is detached or the surface hung up.
//
// NOTE: This implements the playback.ControlChannel interface.
func (c *controlConn) Done() <-chan struct{} {
	return c.done
}

func (c *controlConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// readPump keeps the read deadline fresh and notices when the surface
// goes away. The surface has nothing further to say after its hello.
func (c *controlConn) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {

				log.Debugf("Surface %s read error: %v",
					c.surfaceID, err)
			}
			return
		}

		log.Tracef("Dropping unsolicited message from surface %s",
			c.surfaceID)
	}
}

// writePump writes queued commands and keepalive pings.
func (c *controlConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					[]byte{})
				return
			}

			err := c.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				log.Debugf("Surface %s write error: %v",
					c.surfaceID, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}
