// Package feed serves live instrument values over HTTP for display
// frontends.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gaziuzay/gcslink"
	"github.com/gaziuzay/gcslink/instrument"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	clientBufferSize = 16
	writeTimeout     = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Source is what the feed reads from; *gcslink.Station implements it.
type Source interface {
	Subscribe(kinds ...gcslink.SampleKind) *gcslink.Subscription
	Unsubscribe(sub *gcslink.Subscription)
	Status() gcslink.Status
}

// Feed applies every sample to an instrument panel and pushes the panel to
// websocket clients. Clients that fall behind miss updates.
type Feed struct {
	source Source
	track  *instrument.Track

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func New(source Source) *Feed {
	return &Feed{
		source: source,
		track:  instrument.NewTrack(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Track returns the flight path the feed is building.
func (f *Feed) Track() *instrument.Track {
	return f.track
}

// Run consumes samples until ctx is done. The panel is owned by Run.
func (f *Feed) Run(ctx context.Context) error {
	sub := f.source.Subscribe()
	defer f.source.Unsubscribe(sub)

	panel := instrument.NewPanel(f.track)
	for sample := range sub.Samples(ctx) {
		if panel.Apply(sample) == 0 {
			continue
		}
		msg, err := json.Marshal(panel.Copy())
		if err != nil {
			log.Errorf("unable to marshal panel: %v", err)
			continue
		}
		f.broadcast(msg)
	}
	f.closeClients()
	return ctx.Err()
}

func (f *Feed) broadcast(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			log.WithField("remote", c.conn.RemoteAddr()).Debug("feed client is slow, skipping update")
		}
	}
}

// Clients returns the number of connected websocket clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) closeClients() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWS)
	mux.HandleFunc("/status", f.handleStatus)
	mux.HandleFunc("/track", f.handleTrack)
	return mux
}

// Serve listens on addr until ctx is done.
func (f *Feed) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           f.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()
	log.WithField("addr", addr).Info("feed listening")

	select {
	case err := <-errChan:
		return errors.Wrap(err, "feed server")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "feed shutdown")
	}
	return ctx.Err()
}

func (f *Feed) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, f.source.Status())
}

func (f *Feed) handleTrack(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, f.track.Snapshot())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("unable to write response: %v", err)
	}
}

func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("feed: websocket upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBufferSize)}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	log.WithField("remote", conn.RemoteAddr()).Info("feed client connected")

	go f.readLoop(c)
	f.writeLoop(c)
}

// readLoop discards client messages and unregisters the client when the
// connection closes.
func (f *Feed) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("feed: websocket error: %v", err)
			}
			break
		}
	}
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
}

func (f *Feed) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.WithField("remote", c.conn.RemoteAddr()).Debugf("feed write failed: %v", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
