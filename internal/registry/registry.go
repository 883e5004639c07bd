package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeduel-live/battle-backend/internal/archive"
	"github.com/codeduel-live/battle-backend/internal/judge"
	"github.com/codeduel-live/battle-backend/internal/problems"
	"github.com/codeduel-live/battle-backend/internal/session"
)

var ErrSessionNotFound = errors.New("session not found")

type Msg interface{ isRegistryMsg() }

type createBattle struct {
	A, B  session.Participant
	Reply chan *session.Session
}

type lookupBattle struct {
	BattleID string
	Reply    chan *session.Session
}

type lookupUser struct {
	UserID string
	Reply  chan string // battle id, "" if none
}

type removeBattle struct{ BattleID string }

type shutdown struct{}

func (createBattle) isRegistryMsg() {}
func (lookupBattle) isRegistryMsg() {}
func (lookupUser) isRegistryMsg()   {}
func (removeBattle) isRegistryMsg() {}
func (shutdown) isRegistryMsg()     {}

type binding struct {
	sess  *session.Session
	users [2]string
}

// Params carries everything a freshly created session needs.
type Params struct {
	Problems     problems.Repo
	Judge        judge.Client
	Archiver     archive.Archiver
	TimeLimit    time.Duration
	GraceWindow  time.Duration
	ChatCooldown time.Duration
	ChatMaxLen   int
	Log          *zap.Logger
}

// Registry maps userId -> battleId and battleId -> session, and is the only
// creator of sessions. One loop goroutine owns both maps, so "at most one
// active battle per user" holds without locks.
type Registry struct {
	inbox    chan Msg
	byUser   map[string]string
	byBattle map[string]*binding
	p        Params
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

func New(parent context.Context, p Params) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:    make(chan Msg, 64),
		byUser:   make(map[string]string),
		byBattle: make(map[string]*binding),
		p:        p,
		ctx:      ctx,
		cancel:   cancel,
		log:      p.Log,
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case createBattle:
				id := uuid.NewString()
				prob := r.p.Problems.Random()
				sess := session.New(r.ctx, session.Params{
					BattleID:     id,
					Problem:      prob,
					A:            msg.A,
					B:            msg.B,
					TimeLimit:    r.p.TimeLimit,
					GraceWindow:  r.p.GraceWindow,
					ChatCooldown: r.p.ChatCooldown,
					ChatMaxLen:   r.p.ChatMaxLen,
					Judge:        r.p.Judge,
					Archiver:     r.p.Archiver,
					OnRetired:    r.Remove,
					Log:          r.log,
				})
				r.byBattle[id] = &binding{sess: sess, users: [2]string{msg.A.UserID, msg.B.UserID}}
				r.byUser[msg.A.UserID] = id
				r.byUser[msg.B.UserID] = id
				r.log.Info("battle created",
					zap.String("battle_id", id),
					zap.String("user_a", msg.A.UserID),
					zap.String("user_b", msg.B.UserID),
					zap.String("problem", prob.Slug))
				msg.Reply <- sess

			case lookupBattle:
				if b := r.byBattle[msg.BattleID]; b != nil {
					msg.Reply <- b.sess
				} else {
					msg.Reply <- nil
				}

			case lookupUser:
				msg.Reply <- r.byUser[msg.UserID]

			case removeBattle:
				b := r.byBattle[msg.BattleID]
				if b == nil {
					break
				}
				delete(r.byBattle, msg.BattleID)
				for _, u := range b.users {
					if r.byUser[u] == msg.BattleID {
						delete(r.byUser, u)
					}
				}
				r.log.Info("battle retired", zap.String("battle_id", msg.BattleID))

			case shutdown:
				for _, b := range r.byBattle {
					b.sess.Inbox() <- session.Shutdown{}
				}
				clear(r.byBattle)
				clear(r.byUser)
				r.cancel()
				return
			}
		}
	}
}

// CreateBattle pairs two users into a new session. Callers hand over the
// participants' delivery channels; the session announces battle-matched.
func (r *Registry) CreateBattle(a, b session.Participant) *session.Session {
	reply := make(chan *session.Session, 1)
	r.inbox <- createBattle{A: a, B: b, Reply: reply}
	return <-reply
}

// Lookup routes an incoming action to its session. Unknown or already
// retired battle ids get ErrSessionNotFound.
func (r *Registry) Lookup(battleID string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	select {
	case r.inbox <- lookupBattle{BattleID: battleID, Reply: reply}:
	case <-r.ctx.Done():
		return nil, ErrSessionNotFound
	}
	if sess := <-reply; sess != nil {
		return sess, nil
	}
	return nil, ErrSessionNotFound
}

// UserBattle reports the battle a user is currently bound to, if any.
func (r *Registry) UserBattle(userID string) (string, bool) {
	reply := make(chan string, 1)
	select {
	case r.inbox <- lookupUser{UserID: userID, Reply: reply}:
	case <-r.ctx.Done():
		return "", false
	}
	id := <-reply
	return id, id != ""
}

func (r *Registry) UserInBattle(userID string) bool {
	_, ok := r.UserBattle(userID)
	return ok
}

// Remove retires a finished battle. Safe to call from a session loop: the
// registry loop never blocks on a session inbox outside shutdown.
func (r *Registry) Remove(battleID string) {
	select {
	case r.inbox <- removeBattle{BattleID: battleID}:
	case <-r.ctx.Done():
	}
}

func (r *Registry) Shutdown() {
	select {
	case r.inbox <- shutdown{}:
	case <-r.ctx.Done():
	}
}
