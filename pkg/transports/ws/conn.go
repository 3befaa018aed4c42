package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/clinicvoice/relay/pkg/errorsx"
	"github.com/gorilla/websocket"
)

// Conn wraps one client WebSocket. All writes go through a single
// writer goroutine fed by sendCh, so concurrent senders (the client
// read loop and the upstream event callbacks) never interleave frames
// and messages leave in the order they were enqueued. Send blocks when
// the buffer is full; a slow client stalls only its own session.
type Conn struct {
	ws           *websocket.Conn
	sendCh       chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, buffer int, writeTimeout time.Duration) *Conn {
	c := &Conn{
		ws:           ws,
		sendCh:       make(chan []byte, buffer),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	select {
	case <-c.closed:
		return errorsx.New(errorsx.ReasonTransportSend, "connection closed")
	default:
	}
	select {
	case c.sendCh <- b:
		return nil
	case <-c.closed:
		return errorsx.New(errorsx.ReasonTransportSend, "connection closed")
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *Conn) writeLoop() {
	for {
		select {
		case b := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = c.Close()
				_ = c.ws.Close()
				return
			}
		case <-c.closed:
			// Flush whatever was enqueued before the close was requested.
			for {
				select {
				case b := <-c.sendCh:
					_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
					if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
						_ = c.ws.Close()
						return
					}
				default:
					deadline := time.Now().Add(c.writeTimeout)
					_ = c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
					_ = c.ws.Close()
					return
				}
			}
		}
	}
}
