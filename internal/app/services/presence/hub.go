// Package presence runs the realtime viewer channel. The wire format is the
// Phoenix-flavored one the platform's realtime clients already speak:
// phx_join/phx_reply envelopes, presence_state on join, presence_diff on
// changes, heartbeats on the "phoenix" topic.
package presence

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EndlessPixel/git-city/internal/app/metrics"
	"github.com/EndlessPixel/git-city/internal/app/system"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Topic and event names of the channel protocol.
const (
	TopicPresence = "city:presence"
	TopicPhoenix  = "phoenix"

	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventHeartbeat = "heartbeat"
	EventState     = "presence_state"
	EventDiff      = "presence_diff"
)

// DefaultHeartbeatTimeout evicts connections that stop answering.
const DefaultHeartbeatTimeout = time.Minute

// Message is one channel frame.
type Message struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref,omitempty"`
	JoinRef string      `json:"join_ref,omitempty"`
}

// Meta describes one joined viewer.
type Meta struct {
	PhxRef   string `json:"phx_ref"`
	OnlineAt string `json:"online_at"`
	Login    string `json:"login,omitempty"`
}

// HubConfig tunes the hub.
type HubConfig struct {
	HeartbeatTimeout time.Duration
	// CheckOrigin overrides the upgrade origin check; nil allows all
	// origins, which suits a separately-hosted frontend.
	CheckOrigin func(r *http.Request) bool
	Logger      *logger.Logger
}

// Hub tracks websocket viewers of the city.
type Hub struct {
	log              *logger.Logger
	heartbeatTimeout time.Duration
	upgrader         websocket.Upgrader

	mu      sync.Mutex
	conns   map[*conn]struct{}
	nextID  int64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type conn struct {
	ws    *websocket.Conn
	id    int64
	key   string // login, or guest-<id> for anonymous viewers
	login string

	writeMu sync.Mutex

	// Guarded by the hub mutex.
	joined   bool
	joinRef  string
	onlineAt time.Time
	lastSeen time.Time
}

var _ system.Service = (*Hub)(nil)

// NewHub creates the presence hub.
func NewHub(cfg HubConfig) *Hub {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("presence")
	}
	timeout := cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Hub{
		log:              log,
		heartbeatTimeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     check,
		},
		conns: make(map[*conn]struct{}),
	}
}

func (h *Hub) Name() string { return "presence" }

// Start launches the stale-connection sweeper.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.heartbeatTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				h.sweep()
			}
		}
	}()

	h.log.Info("presence hub started")
	return nil
}

// Stop closes every connection and waits for the sweeper.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	cancel := h.cancel
	h.running = false
	h.cancel = nil
	open := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		open = append(open, c)
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, c := range open {
		_ = c.ws.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// ServeWS upgrades the request and runs the connection until it drops.
// login is empty for anonymous viewers.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, login string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.nextID++
	c := &conn{
		ws:       ws,
		id:       h.nextID,
		login:    login,
		lastSeen: time.Now(),
	}
	if login != "" {
		c.key = login
	} else {
		c.key = fmt.Sprintf("guest-%d", c.id)
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.readLoop(c)
}

// Count returns the number of joined viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	n := 0
	for c := range h.conns {
		if c.joined {
			n++
		}
	}
	return n
}

func (h *Hub) readLoop(c *conn) {
	defer h.drop(c)

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		h.touch(c)

		switch {
		case msg.Topic == TopicPhoenix && msg.Event == EventHeartbeat:
			c.send(Message{Topic: TopicPhoenix, Event: EventReply, Payload: okReply(), Ref: msg.Ref})

		case msg.Topic == TopicPresence && msg.Event == EventJoin:
			h.join(c, msg.Ref)

		case msg.Topic == TopicPresence && msg.Event == EventLeave:
			c.send(Message{Topic: TopicPresence, Event: EventReply, Payload: okReply(), Ref: msg.Ref, JoinRef: msg.JoinRef})
			h.leave(c)

		default:
			c.send(Message{
				Topic:   msg.Topic,
				Event:   EventReply,
				Payload: map[string]interface{}{"status": "error", "response": map[string]interface{}{"reason": "unmatched topic"}},
				Ref:     msg.Ref,
			})
		}
	}
}

func (h *Hub) join(c *conn, ref string) {
	now := time.Now()

	h.mu.Lock()
	wasJoined := c.joined
	c.joined = true
	c.joinRef = ref
	if !wasJoined {
		c.onlineAt = now
	}
	state := h.stateLocked()
	others := h.joinedConnsLocked(c)
	count := h.countLocked()
	meta := h.metaLocked(c)
	h.mu.Unlock()

	c.send(Message{Topic: TopicPresence, Event: EventReply, Payload: okReply(), Ref: ref, JoinRef: ref})
	c.send(Message{Topic: TopicPresence, Event: EventState, Payload: state, JoinRef: ref})

	if !wasJoined {
		diff := diffPayload(map[string][]Meta{c.key: {meta}}, nil)
		for _, other := range others {
			other.send(Message{Topic: TopicPresence, Event: EventDiff, Payload: diff})
		}
		metrics.SetConnectedVisitors(count)
		h.log.Debugf("%s joined the city (%d viewing)", c.key, count)
	}
}

func (h *Hub) leave(c *conn) {
	h.mu.Lock()
	if !c.joined {
		h.mu.Unlock()
		return
	}
	c.joined = false
	meta := h.metaLocked(c)
	others := h.joinedConnsLocked(c)
	count := h.countLocked()
	h.mu.Unlock()

	diff := diffPayload(nil, map[string][]Meta{c.key: {meta}})
	for _, other := range others {
		other.send(Message{Topic: TopicPresence, Event: EventDiff, Payload: diff})
	}
	metrics.SetConnectedVisitors(count)
	h.log.Debugf("%s left the city (%d viewing)", c.key, count)
}

// drop removes a connection entirely, broadcasting its leave if needed.
func (h *Hub) drop(c *conn) {
	h.leave(c)
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.ws.Close()
}

func (h *Hub) touch(c *conn) {
	h.mu.Lock()
	c.lastSeen = time.Now()
	h.mu.Unlock()
}

// sweep closes connections that missed their heartbeats; closing the socket
// makes the read loop drop them.
func (h *Hub) sweep() {
	cutoff := time.Now().Add(-h.heartbeatTimeout)

	h.mu.Lock()
	stale := make([]*conn, 0)
	for c := range h.conns {
		if c.lastSeen.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.log.Debugf("evicting stale viewer %s", c.key)
		_ = c.ws.Close()
	}
}

// stateLocked builds the full presence_state payload.
func (h *Hub) stateLocked() map[string]interface{} {
	state := make(map[string]interface{})
	for c := range h.conns {
		if !c.joined {
			continue
		}
		state[c.key] = map[string]interface{}{"metas": []Meta{h.metaLocked(c)}}
	}
	return state
}

func (h *Hub) metaLocked(c *conn) Meta {
	return Meta{
		PhxRef:   fmt.Sprintf("%d", c.id),
		OnlineAt: c.onlineAt.UTC().Format(time.RFC3339),
		Login:    c.login,
	}
}

func (h *Hub) joinedConnsLocked(except *conn) []*conn {
	others := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c != except && c.joined {
			others = append(others, c)
		}
	}
	return others
}

func (c *conn) send(msg Message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(msg); err != nil {
		_ = c.ws.Close()
	}
}

func okReply() map[string]interface{} {
	return map[string]interface{}{"status": "ok", "response": map[string]interface{}{}}
}

func diffPayload(joins, leaves map[string][]Meta) map[string]interface{} {
	payload := map[string]interface{}{
		"joins":  map[string]interface{}{},
		"leaves": map[string]interface{}{},
	}
	if len(joins) > 0 {
		j := make(map[string]interface{}, len(joins))
		for key, metas := range joins {
			j[key] = map[string]interface{}{"metas": metas}
		}
		payload["joins"] = j
	}
	if len(leaves) > 0 {
		l := make(map[string]interface{}, len(leaves))
		for key, metas := range leaves {
			l[key] = map[string]interface{}{"metas": metas}
		}
		payload["leaves"] = l
	}
	return payload
}
