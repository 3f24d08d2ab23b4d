package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	wsPongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait - wsWriteWait) * 2 / 3
)

// wsConn presents a websocket as the byte stream frames are read from and
// written to. Every Write becomes one binary message; Read concatenates
// incoming binary messages. Pings keep the connection alive.
type wsConn struct {
	pinger    *time.Timer
	readLock  sync.Mutex
	writeLock sync.Mutex
	reader    io.Reader
	conn      *websocket.Conn

	// deadline is the caller's read deadline. Keepalive traffic never
	// extends the read deadline past it.
	deadlineMu sync.Mutex
	deadline   time.Time
}

// NewWebsocketConn adapts c into a byte stream and starts its ping timer.
func NewWebsocketConn(c *websocket.Conn) io.ReadWriteCloser {
	p := &wsConn{conn: c}
	p.conn.SetPongHandler(p.pong)
	p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	p.pinger = time.AfterFunc(wsPingPeriod, p.ping)
	return p
}

func (p *wsConn) ping() {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
		p.conn.Close()
		return
	}
	p.pinger.Reset(wsPingPeriod)
}

func (p *wsConn) pong(string) error {
	return p.extendReadDeadline()
}

func (p *wsConn) extendReadDeadline() error {
	p.deadlineMu.Lock()
	defer p.deadlineMu.Unlock()
	t := time.Now().Add(wsPongWait)
	if !p.deadline.IsZero() && p.deadline.Before(t) {
		t = p.deadline
	}
	return p.conn.SetReadDeadline(t)
}

// SetReadDeadline behaves like net.Conn's: a pending Read fails once t
// passes. The zero time restores the keepalive deadline.
func (p *wsConn) SetReadDeadline(t time.Time) error {
	p.deadlineMu.Lock()
	defer p.deadlineMu.Unlock()
	p.deadline = t
	if t.IsZero() {
		t = time.Now().Add(wsPongWait)
	}
	return p.conn.SetReadDeadline(t)
}

func (p *wsConn) Read(b []byte) (int, error) {
	p.readLock.Lock()
	defer p.readLock.Unlock()

	for p.reader == nil {
		msgType, r, err := p.conn.NextReader()
		if err != nil {
			if IsExpectedWSCloseError(err) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		p.reader = r
	}

	n, err := p.reader.Read(b)
	if err == io.EOF {
		p.reader = nil
		err = nil
	}
	p.extendReadDeadline()
	return n, err
}

func (p *wsConn) Write(b []byte) (int, error) {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return 0, err
	}
	w, err := p.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	if err != nil {
		return n, err
	}
	return n, w.Close()
}

func (p *wsConn) Close() error {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	p.pinger.Stop()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ok")
	if err := p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// IsExpectedWSCloseError reports whether err is a clean disconnection.
func IsExpectedWSCloseError(err error) bool {
	return err == io.EOF || err == io.ErrClosedPipe || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade upgrades the HTTP server connection to the websocket protocol.
func Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (io.ReadWriteCloser, error) {
	c, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, err
	}
	return NewWebsocketConn(c), nil
}

// DialErr reports a websocket handshake the server refused.
type DialErr struct {
	URL        string
	StatusCode int
}

func (de *DialErr) Error() string {
	return fmt.Sprintf("connecting to websocket %s (http status code = %d)", de.URL, de.StatusCode)
}

// DialWebsocket opens a websocket to url (ws:// or wss://).
func DialWebsocket(ctx context.Context, url string, header http.Header) (io.ReadWriteCloser, error) {
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &DialErr{URL: url, StatusCode: resp.StatusCode}
		}
		return nil, errors.Wrapf(err, "dial websocket %s", url)
	}
	return NewWebsocketConn(c), nil
}
