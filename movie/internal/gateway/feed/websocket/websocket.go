package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/abhishek622/moviereplica/movie/internal/gateway"
	"github.com/gorilla/websocket"
)

const writeWait = time.Second

var _ gateway.FeedSource = (*Source)(nil)

// Source connects to a websocket change feed.
type Source struct {
	url         string
	readTimeout time.Duration
	dialer      *websocket.Dialer
}

// New creates a websocket feed source for url. A positive readTimeout
// fails the stream when the server stays silent for that long; pings
// from the server count as traffic.
func New(url string, readTimeout time.Duration) *Source {
	return &Source{
		url:         url,
		readTimeout: readTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Connect dials the feed.
func (s *Source) Connect(ctx context.Context) (gateway.FeedStream, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	st := &stream{conn: conn, readTimeout: s.readTimeout}
	conn.SetPingHandler(func(data string) error {
		st.extendDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return st, nil
}

type stream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once

	// ctx belongs to the Next call in progress. Only the reading goroutine
	// touches it, ping handlers included.
	ctx context.Context
}

func (s *stream) extendDeadline() {
	if s.readTimeout <= 0 {
		return
	}
	s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	// A cancellation that fired before the extension must still end the read.
	if s.ctx != nil && s.ctx.Err() != nil {
		s.conn.SetReadDeadline(time.Now())
	}
}

// Next returns the next text or binary frame.
func (s *stream) Next(ctx context.Context) ([]byte, error) {
	s.ctx = ctx
	defer func() { s.ctx = nil }()
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.extendDeadline()
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and tears the connection down.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}
