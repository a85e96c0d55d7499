package ticker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"stoic_citadel_go/logs"

	"github.com/gorilla/websocket"
)

// WSFeed connects to an aggregated-ticker websocket stream and republishes
// decoded frames through an embedded Hub. It reconnects with capped backoff
// until Stop is called.
type WSFeed struct {
	url string
	hub *Hub

	readTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWSFeed(url string) *WSFeed {
	return &WSFeed{
		url:         url,
		hub:         NewHub(),
		readTimeout: 60 * time.Second,
	}
}

// Subscribe implements Feed.
func (f *WSFeed) Subscribe(h Handler) func() {
	return f.hub.Subscribe(h)
}

// Start launches the connection manager. It returns immediately; the first
// dial happens in the background so a dead stream at boot does not block
// startup.
func (f *WSFeed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.run(ctx)
}

// Stop tears down the connection and waits for the read loop to exit.
func (f *WSFeed) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	conn := f.conn
	done := f.done
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (f *WSFeed) run(ctx context.Context) {
	defer close(f.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			logs.Warnf("[Ticker] Websocket dial failed (%v), retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		logs.Infof("[Ticker] Connected to %s", f.url)
		backoff = time.Second

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		f.readLoop(ctx, conn)

		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logs.Warnf("[Ticker] Read error, will reconnect: %v", err)
			}
			return
		}

		var u Update
		if err := json.Unmarshal(raw, &u); err != nil {
			logs.Debugf("[Ticker] Dropping undecodable frame: %v", err)
			continue
		}
		if u.Symbol == "" {
			continue
		}
		if u.Timestamp.IsZero() {
			u.Timestamp = time.Now()
		}
		f.hub.Publish(u)
	}
}
