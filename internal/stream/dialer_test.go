package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func wsBase(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialerDropsSilentChannel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewWSDialer(wsBase(srv))
	d.ReadTimeout = 50 * time.Millisecond
	conn, err := d.Dial(context.Background(), 7, "t")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			t.Fatalf("expected read timeout, got %v", err)
		}
		if terminal, final := classifyClose(err); final || terminal != nil {
			t.Fatalf("timeout must reconnect, got final=%v err=%v", final, terminal)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("silent channel was never dropped")
	}
}

func TestDialerPingsKeepChannelAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for i := 0; i < 15; i++ {
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"message_deleted","message_id":3}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewWSDialer(wsBase(srv))
	d.ReadTimeout = 100 * time.Millisecond
	conn, err := d.Dial(context.Background(), 7, "t")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("pinged channel dropped: %v", err)
	}
	if !strings.Contains(string(data), "message_deleted") {
		t.Fatalf("unexpected frame %s", data)
	}
}

func TestHandshakeRejectionIsTerminal(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusForbidden, ErrNotParticipant},
		{http.StatusNotFound, ErrChatNotFound},
	}
	for _, tc := range cases {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "rejected", tc.status)
		}))

		c := New(NewWSDialer(wsBase(srv)), staticTokens{token: "t"}, Options{ReconnectDelay: time.Millisecond})
		sub, err := c.Subscribe(7, nil)
		if err != nil {
			srv.Close()
			t.Fatalf("status %d: Subscribe: %v", tc.status, err)
		}
		select {
		case <-sub.Done():
		case <-time.After(2 * time.Second):
			srv.Close()
			t.Fatalf("status %d: connector kept retrying", tc.status)
		}

		st := c.Status()
		if st.State != Disconnected || !errors.Is(st.Err, tc.want) {
			srv.Close()
			t.Fatalf("status %d: got %+v", tc.status, st)
		}
		time.Sleep(10 * time.Millisecond)
		if n := hits.Load(); n != 1 {
			srv.Close()
			t.Fatalf("status %d: %d handshakes", tc.status, n)
		}
		srv.Close()
	}
}

func TestHandshakeServerErrorReconnects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(NewWSDialer(wsBase(srv)), staticTokens{token: "t"}, Options{ReconnectDelay: 5 * time.Millisecond})
	if _, err := c.Subscribe(7, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer c.Disconnect()

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected retries, got %d handshakes", hits.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := c.Status(); st.State == Disconnected {
		t.Fatalf("connector gave up: %+v", st)
	}
}
