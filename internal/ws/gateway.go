package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/codeduel-live/battle-backend/internal/auth"
	"github.com/codeduel-live/battle-backend/internal/queue"
	"github.com/codeduel-live/battle-backend/internal/registry"
	"github.com/codeduel-live/battle-backend/internal/session"
	"github.com/codeduel-live/battle-backend/internal/types"
)

// Gateway authenticates inbound connections and bridges them to the queue
// and registry. It is a plain injected value, not process-global state, so
// tests can run several independent instances.
type Gateway struct {
	verifier auth.Verifier
	queue    *queue.Queue
	registry *registry.Registry
	log      *zap.Logger

	mu    sync.Mutex
	conns map[string]int // userID -> generation of the live connection
}

func NewGateway(v auth.Verifier, q *queue.Queue, r *registry.Registry, log *zap.Logger) *Gateway {
	return &Gateway{
		verifier: v,
		queue:    q,
		registry: r,
		log:      log,
		conns:    make(map[string]int),
	}
}

// claim registers a new connection for userID and returns its generation.
// A later connection supersedes an earlier one: only the connection holding
// the current generation may report disconnect on exit.
func (g *Gateway) claim(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[userID]++
	return g.conns[userID]
}

func (g *Gateway) isCurrent(userID string, gen int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[userID] == gen
}

func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := g.verifier.Verify(bearerToken(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		gen := g.claim(userID)
		out := make(chan types.ServerMessage, 16)
		g.log.Info("client connected", zap.String("user_id", userID))

		// Reconnect path: if the registry still knows this user, re-point
		// the session's delivery channel at the fresh connection. The
		// client still has to send join-battle to be marked connected.
		if battleID, ok := g.registry.UserBattle(userID); ok {
			if sess, err := g.registry.Lookup(battleID); err == nil {
				sess.Inbox() <- session.Attach{UserID: userID, Outbox: out}
			}
		}

		defer func() {
			if !g.isCurrent(userID, gen) {
				return // superseded by a newer connection
			}
			g.queue.LeaveUser(userID)
			if battleID, ok := g.registry.UserBattle(userID); ok {
				if sess, err := g.registry.Lookup(battleID); err == nil {
					sess.Inbox() <- session.ClientGone{UserID: userID}
				}
			}
			g.log.Info("client disconnected", zap.String("user_id", userID))
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case msg := <-out:
					payload, _ := json.Marshal(msg)
					ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
					_ = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				sendErr(out, "bad json")
				continue
			}
			g.dispatch(userID, out, cm)
		}
	}
}

func (g *Gateway) dispatch(userID string, out chan types.ServerMessage, cm types.ClientMessage) {
	switch cm.Type {
	case types.CJoinQueue:
		if err := g.queue.EnqueueUser(userID, out); err != nil {
			sendErr(out, err.Error())
		}

	case types.CLeaveQueue:
		g.queue.LeaveUser(userID)

	case types.CJoinBattle, types.CRun, types.CSubmit, types.CMessage, types.CForfeit:
		sess, err := g.registry.Lookup(cm.BattleID)
		if err != nil {
			sendErr(out, "session not found")
			return
		}
		// A stale or foreign battle id is the sender's problem only.
		if battleID, ok := g.registry.UserBattle(userID); !ok || battleID != cm.BattleID {
			sendErr(out, "not a participant of this battle")
			return
		}

		switch cm.Type {
		case types.CJoinBattle:
			// Re-point delivery at whichever connection is joining, so a
			// rejoin after reconnect lands on the live socket.
			sess.Inbox() <- session.Attach{UserID: userID, Outbox: out}
			sess.Inbox() <- session.Join{UserID: userID}
		case types.CRun:
			sess.Inbox() <- session.Run{UserID: userID, Code: cm.Code, Language: cm.Language}
		case types.CSubmit:
			sess.Inbox() <- session.Submit{UserID: userID, Code: cm.Code, Language: cm.Language}
		case types.CMessage:
			sess.Inbox() <- session.Chat{UserID: userID, Text: cm.Message}
		case types.CForfeit:
			sess.Inbox() <- session.Forfeit{UserID: userID}
		}

	default:
		sendErr(out, "unknown type")
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func sendErr(out chan types.ServerMessage, msg string) {
	select {
	case out <- types.ServerMessage{Type: types.SBattleError, Error: msg}:
	default:
	}
}
