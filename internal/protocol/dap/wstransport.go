package dap

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn adapts a single *websocket.Conn into the io.Reader/io.Writer pair the
// Content-Length framing in dap.go expects, so an Adapter doesn't need to
// know whether its bytes travel over stdio or a socket.
//
// Grounded on the teacher's pkg/websocket (connection.go's ReadPump/WritePump
// pair, upgrader construction in server.go), generalized from the hub/room
// broadcast model — many connections fanned out to many rooms — down to one
// bidirectional byte stream per debug session, since a debug adapter serves
// exactly one client at a time.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending bytes.Buffer
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Accept upgrades an incoming HTTP request to a websocket connection and
// wraps it as a Conn.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Dial connects to a debug adapter listening at url and wraps the resulting
// connection as a Conn, for a client driving this module's DAP server over
// the "ws" transport.
func Dial(url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Read implements io.Reader by pulling whole websocket messages off the wire
// and draining them into p across however many calls it takes — the
// Content-Length reader in dap.go expects an ordinary streaming Reader, not
// one message per logical read.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for c.pending.Len() == 0 {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		c.pending.Write(msg)
	}
	return c.pending.Read(p)
}

// Write implements io.Writer by sending p as one binary websocket message.
// dap.go issues one Write for the Content-Length header and one for the
// body; the Read side reassembles them from the byte stream, so the message
// boundary here carries no framing meaning of its own.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
