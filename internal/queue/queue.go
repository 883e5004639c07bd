package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/codeduel-live/battle-backend/internal/session"
	"github.com/codeduel-live/battle-backend/internal/types"
)

var ErrAlreadyQueued = errors.New("user already in matchmaking queue")
var ErrInBattle = errors.New("user already in an active battle")

// Registrar is the slice of the session registry the queue needs: the
// membership invariant check and battle creation at pairing time.
type Registrar interface {
	UserInBattle(userID string) bool
	CreateBattle(a, b session.Participant) *session.Session
}

type Msg interface{ isQueueMsg() }

type Enqueue struct {
	UserID string
	Outbox chan types.ServerMessage
	Reply  chan error
}

func (Enqueue) isQueueMsg() {}

type Leave struct{ UserID string }

func (Leave) isQueueMsg() {}

type GetState struct{ Reply chan View }

func (GetState) isQueueMsg() {}

type Shutdown struct{}

func (Shutdown) isQueueMsg() {}

// View reflects internal state without data races; test-only.
type View struct {
	Waiting []string
}

type entry struct {
	userID     string
	outbox     chan types.ServerMessage
	enqueuedAt time.Time
}

// Queue is the FIFO matchmaking pool. A single loop goroutine is the sole
// writer of membership, so a pairing can never observe a half-applied
// enqueue or leave, and a leave processed before a pairing always wins.
type Queue struct {
	inbox   chan Msg
	entries []entry
	reg     Registrar
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func New(parent context.Context, reg Registrar, log *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		inbox:  make(chan Msg, 64),
		reg:    reg,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	go q.loop()
	return q
}

func (q *Queue) Inbox() chan<- Msg { return q.inbox }

func (q *Queue) loop() {
	for {
		select {
		case <-q.ctx.Done():
			return

		case m := <-q.inbox:
			switch msg := m.(type) {
			case Enqueue:
				msg.Reply <- q.enqueue(msg)

			case Leave:
				if q.remove(msg.UserID) {
					q.broadcastCount()
				}

			case GetState:
				waiting := make([]string, len(q.entries))
				for i, e := range q.entries {
					waiting[i] = e.userID
				}
				msg.Reply <- View{Waiting: waiting}

			case Shutdown:
				q.cancel()
				return
			}
		}
	}
}

func (q *Queue) enqueue(msg Enqueue) error {
	for _, e := range q.entries {
		if e.userID == msg.UserID {
			return ErrAlreadyQueued
		}
	}
	if q.reg.UserInBattle(msg.UserID) {
		return ErrInBattle
	}

	q.entries = append(q.entries, entry{
		userID:     msg.UserID,
		outbox:     msg.Outbox,
		enqueuedAt: time.Now(),
	})
	q.log.Info("user queued", zap.String("user_id", msg.UserID), zap.Int("waiting", len(q.entries)))

	q.broadcastCount()
	q.pair()
	return nil
}

// pair removes the two oldest entries while at least two users wait. It
// runs inside the loop, so no concurrent enqueue can land between the two
// removals or see either user as still queued.
func (q *Queue) pair() {
	for len(q.entries) >= 2 {
		a, b := q.entries[0], q.entries[1]
		q.entries = q.entries[2:]

		q.reg.CreateBattle(
			session.Participant{UserID: a.userID, Outbox: a.outbox},
			session.Participant{UserID: b.userID, Outbox: b.outbox},
		)
		q.broadcastCount()
	}
}

func (q *Queue) remove(userID string) bool {
	for i, e := range q.entries {
		if e.userID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) broadcastCount() {
	msg := types.ServerMessage{Type: types.SQueueStatus, UsersInQueue: len(q.entries)}
	for _, e := range q.entries {
		select {
		case e.outbox <- msg:
			// ok
		default:
			// Slow client; the count is advisory, drop it.
		}
	}
}

// EnqueueUser is the blocking convenience wrapper used by the gateway.
func (q *Queue) EnqueueUser(userID string, outbox chan types.ServerMessage) error {
	reply := make(chan error, 1)
	select {
	case q.inbox <- Enqueue{UserID: userID, Outbox: outbox, Reply: reply}:
	case <-q.ctx.Done():
		return context.Canceled
	}
	return <-reply
}

func (q *Queue) LeaveUser(userID string) {
	select {
	case q.inbox <- Leave{UserID: userID}:
	case <-q.ctx.Done():
	}
}
