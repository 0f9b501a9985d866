package stream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes the backend uses to reject or end a subscription.
const (
	CloseNormal         = websocket.CloseNormalClosure
	CloseAuthFailed     = 4001
	CloseNotParticipant = 4003
	CloseNotFound       = 4004
)

type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, chatID int64, token string) (Conn, error)
}

// DefaultReadTimeout bounds the silence between frames. chatd pings every
// 54s, so a live channel never reaches it.
const DefaultReadTimeout = 60 * time.Second

const writeWait = time.Second

// WSDialer opens chat channels at {BaseURL}/ws/chats/{id}?token=...
type WSDialer struct {
	BaseURL string
	Dialer  *websocket.Dialer
	// ReadTimeout is extended by every ping and data frame. Expiry drops
	// the channel so the connector reconnects.
	ReadTimeout time.Duration
}

func NewWSDialer(baseURL string) *WSDialer {
	return &WSDialer{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ReadTimeout: DefaultReadTimeout,
	}
}

func (d *WSDialer) Dial(ctx context.Context, chatID int64, token string) (Conn, error) {
	u := d.BaseURL + "/ws/chats/" + strconv.FormatInt(chatID, 10) + "?token=" + url.QueryEscape(token)
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, &websocket.CloseError{Code: CloseAuthFailed, Text: "handshake rejected"}
			case http.StatusForbidden:
				return nil, &websocket.CloseError{Code: CloseNotParticipant, Text: "handshake rejected"}
			case http.StatusNotFound:
				return nil, &websocket.CloseError{Code: CloseNotFound, Text: "handshake rejected"}
			}
		}
		return nil, err
	}
	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	c := &wsConn{ws: ws, timeout: timeout}
	c.extend()
	ws.SetPingHandler(func(data string) error {
		c.extend()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) extend() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.timeout))
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err == nil {
		c.extend()
	}
	return mt, data, err
}

// Close sends a normal closure frame before dropping the socket.
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(CloseNormal, "client closing")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.ws.Close()
}
