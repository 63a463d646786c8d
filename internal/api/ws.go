package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"token-ledger/internal/domain"
	"token-ledger/internal/node"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 10

	// NotificationMethod is the method name of event pushes.
	NotificationMethod = "eventsNotification"
)

// eventFilter matches events by touched account and kind. Empty sets match
// everything.
type eventFilter struct {
	accounts []domain.Address
	kinds    map[domain.EventKind]bool
}

func newEventFilter(p SubscribeParams) (eventFilter, error) {
	f := eventFilter{kinds: make(map[domain.EventKind]bool)}
	for _, a := range p.Accounts {
		addr, err := parseAddressParam("accounts", a)
		if err != nil {
			return f, err
		}
		f.accounts = append(f.accounts, addr)
	}
	for _, k := range p.Kinds {
		kind := domain.EventKind(k)
		if !kind.IsValid() {
			return f, fmt.Errorf("%w: unknown event kind %q", errInvalidParams, k)
		}
		f.kinds[kind] = true
	}
	return f, nil
}

func (f eventFilter) match(e *domain.Event) bool {
	if len(f.kinds) > 0 && !f.kinds[e.Kind] {
		return false
	}
	if len(f.accounts) == 0 {
		return true
	}
	for _, a := range f.accounts {
		if e.Touches(a) {
			return true
		}
	}
	return false
}

// wsConn is one websocket client with its subscriptions.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[uint64]*node.Subscription
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// ServeWS upgrades the request and serves event subscriptions until the
// client disconnects.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("ws upgrade: %v", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	c := &wsConn{conn: conn, subs: make(map[uint64]*node.Subscription)}
	defer s.closeWS(c)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("ws read: %v", err)
			}
			return
		}
		resp := s.handleWS(c, msg)
		if err := c.writeJSON(resp); err != nil {
			s.logger.Printf("ws write: %v", err)
			return
		}
	}
}

func (s *Server) handleWS(c *wsConn, msg []byte) Response {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return Response{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: err.Error()}}
	}
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	var result any
	var err error
	switch req.Method {
	case "eventsSubscribe":
		result, err = s.subscribe(c, req.Params)
	case "eventsUnsubscribe":
		result, err = s.unsubscribe(c, req.Params)
	default:
		resp.Error = &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
	if err != nil {
		resp.Error = toRPCError(err)
		return resp
	}
	resp.Result, _ = json.Marshal(result)
	return resp
}

func (s *Server) subscribe(c *wsConn, raw json.RawMessage) (uint64, error) {
	var p SubscribeParams
	if err := decodeParams(raw, &p); err != nil {
		return 0, err
	}
	filter, err := newEventFilter(p)
	if err != nil {
		return 0, err
	}

	id := s.nextSub.Add(1)
	sub := s.node.Subscribe(s.wsBuffer)
	c.mu.Lock()
	c.subs[id] = sub
	c.mu.Unlock()

	go s.forward(c, id, sub, filter)
	return id, nil
}

func (s *Server) unsubscribe(c *wsConn, raw json.RawMessage) (bool, error) {
	var p UnsubscribeParams
	if err := decodeParams(raw, &p); err != nil {
		return false, err
	}
	c.mu.Lock()
	sub, ok := c.subs[p.Subscription]
	delete(c.subs, p.Subscription)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	s.node.Unsubscribe(sub)
	return true, nil
}

// forward pushes matching events until the subscription closes. A
// subscription the feed dropped for falling behind closes the connection so
// the client resubscribes from a known sequence.
func (s *Server) forward(c *wsConn, id uint64, sub *node.Subscription, filter eventFilter) {
	for e := range sub.C {
		if !filter.match(e) {
			continue
		}
		notif := Notification{
			JSONRPC: "2.0",
			Method:  NotificationMethod,
			Params:  &NotificationParams{Subscription: id, Result: NewEvent(e)},
		}
		if err := c.writeJSON(notif); err != nil {
			s.logger.Printf("ws notify subscription %d: %v", id, err)
			c.conn.Close()
			return
		}
	}

	c.mu.Lock()
	_, active := c.subs[id]
	c.mu.Unlock()
	if active {
		s.logger.Printf("ws subscription %d dropped by feed", id)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription dropped"),
			time.Now().Add(wsWriteTimeout))
		c.writeMu.Unlock()
		c.conn.Close()
	}
}

func (s *Server) closeWS(c *wsConn) {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]*node.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		s.node.Unsubscribe(sub)
	}
	c.conn.Close()
}
