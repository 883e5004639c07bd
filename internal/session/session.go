package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codeduel-live/battle-backend/internal/archive"
	"github.com/codeduel-live/battle-backend/internal/battle"
	"github.com/codeduel-live/battle-backend/internal/judge"
	"github.com/codeduel-live/battle-backend/internal/problems"
	"github.com/codeduel-live/battle-backend/internal/types"
)

// retireLinger bounds how long a finished session keeps draining its inbox.
const retireLinger = 5 * time.Second

type Msg interface{ isSessionMsg() }

// Attach re-points a participant's delivery channel at a fresh connection.
// It carries no state change; the client still has to send join-battle.
type Attach struct {
	UserID string
	Outbox chan types.ServerMessage
}

func (Attach) isSessionMsg() {}

// Join is the explicit join-battle event: first join in waiting, rejoin
// after a disconnect in active.
type Join struct{ UserID string }

func (Join) isSessionMsg() {}

// ClientGone reports transport-level connection loss for a participant.
type ClientGone struct{ UserID string }

func (ClientGone) isSessionMsg() {}

type Run struct {
	UserID   string
	Code     string
	Language string
}

func (Run) isSessionMsg() {}

type Submit struct {
	UserID   string
	Code     string
	Language string
}

func (Submit) isSessionMsg() {}

type Chat struct {
	UserID string
	Text   string
}

func (Chat) isSessionMsg() {}

type Forfeit struct{ UserID string }

func (Forfeit) isSessionMsg() {}

type GetState struct{ Reply chan View }

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Internal messages: verdicts coming back from the judge goroutine and
// timer fires. Generation counters let the loop drop stale fires.
type verdict struct {
	UserID string
	Action string
	Result judge.Result
}

func (verdict) isSessionMsg() {}

type timeLimitFired struct{ Gen int }

func (timeLimitFired) isSessionMsg() {}

type graceFired struct {
	UserID string
	Gen    int
}

func (graceFired) isSessionMsg() {}

// View reflects internal state without data races; test-only.
type View struct {
	State battle.State
}

type Participant struct {
	UserID string
	Outbox chan types.ServerMessage
}

type Params struct {
	BattleID     string
	Problem      problems.Problem
	A, B         Participant
	TimeLimit    time.Duration
	GraceWindow  time.Duration
	ChatCooldown time.Duration
	ChatMaxLen   int
	Judge        judge.Client
	Archiver     archive.Archiver
	OnRetired    func(battleID string)
	Log          *zap.Logger
}

// Session owns one battle. Every mutation (joins, verdicts, disconnects,
// forfeits, timer fires) goes through the single loop goroutine, so no two
// transitions for the same battle can race.
type Session struct {
	inbox chan Msg
	state battle.State
	p     Params

	outboxes map[string]chan types.ServerMessage
	lastChat map[string]time.Time

	timeLimit *time.Timer
	timeGen   int
	grace     map[string]*time.Timer
	graceGen  map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

func New(parent context.Context, p Params) *Session {
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		inbox: make(chan Msg, 64),
		state: battle.New(p.BattleID, p.A.UserID, p.B.UserID, p.Problem.Slug, p.TimeLimit, time.Now()),
		p:     p,
		outboxes: map[string]chan types.ServerMessage{
			p.A.UserID: p.A.Outbox,
			p.B.UserID: p.B.Outbox,
		},
		lastChat: make(map[string]time.Time),
		grace:    make(map[string]*time.Timer),
		graceGen: make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
		log:      p.Log.With(zap.String("battle_id", p.BattleID)),
	}

	// Announce the match before anyone joins.
	prob := p.Problem
	s.sendTo(p.A.UserID, types.ServerMessage{
		Type: types.SBattleMatched, BattleID: p.BattleID, Opponent: p.B.UserID, Problem: &prob,
	})
	s.sendTo(p.B.UserID, types.ServerMessage{
		Type: types.SBattleMatched, BattleID: p.BattleID, Opponent: p.A.UserID, Problem: &prob,
	})

	// The clock runs even while waiting, so a session whose participants
	// never both join still terminates as a draw.
	s.armTimeLimit()

	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }
func (s *Session) ID() string        { return s.p.BattleID }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.stopTimers()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Attach:
				if s.state.IsParticipant(msg.UserID) {
					s.outboxes[msg.UserID] = msg.Outbox
				}

			case Join:
				s.apply(battle.Event{Type: battle.EvtJoin, UserID: msg.UserID, At: time.Now()}, msg.UserID)

			case ClientGone:
				s.apply(battle.Event{Type: battle.EvtConnLost, UserID: msg.UserID, At: time.Now()}, "")

			case Run:
				s.handleAction(msg.UserID, msg.Code, msg.Language, "run")

			case Submit:
				s.handleAction(msg.UserID, msg.Code, msg.Language, "submit")

			case Chat:
				s.handleChat(msg)

			case Forfeit:
				s.apply(battle.Event{Type: battle.EvtForfeit, UserID: msg.UserID, At: time.Now()}, msg.UserID)

			case verdict:
				s.handleVerdict(msg)

			case timeLimitFired:
				if msg.Gen != s.timeGen {
					break // superseded by battle-start re-arm or finish
				}
				s.apply(battle.Event{Type: battle.EvtTimeLimit, At: time.Now()}, "")

			case graceFired:
				if msg.Gen != s.graceGen[msg.UserID] {
					break
				}
				s.apply(battle.Event{Type: battle.EvtGraceExpired, UserID: msg.UserID, At: time.Now()}, "")

			case GetState:
				msg.Reply <- View{State: s.state}

			case Shutdown:
				s.stopTimers()
				s.cancel()
				return
			}
		}
	}
}

// apply runs one event through the transition table and performs its
// effects. Errors are reported to errTo only (never to the opponent).
func (s *Session) apply(ev battle.Event, errTo string) {
	effects, next, err := battle.Apply(s.state, ev)
	if err != nil {
		if errTo != "" {
			s.errorTo(errTo, err.Error())
		}
		return
	}
	s.state = next

	for _, fx := range effects {
		switch fx.Type {
		case battle.FxStart:
			s.armTimeLimit()
			s.broadcast(types.ServerMessage{
				Type:      types.SBattleStart,
				BattleID:  s.state.ID,
				TimeLimit: int(s.state.TimeLimit / time.Second),
			})
			s.log.Info("battle started",
				zap.String("user_a", s.p.A.UserID), zap.String("user_b", s.p.B.UserID))

		case battle.FxOpponentDown:
			s.armGrace(fx.UserID)
			s.sendTo(s.state.Opponent(fx.UserID), types.ServerMessage{
				Type: types.SOpponentDisconnected, BattleID: s.state.ID, UserID: fx.UserID,
			})

		case battle.FxOpponentUp:
			s.graceGen[fx.UserID]++
			if t := s.grace[fx.UserID]; t != nil {
				t.Stop()
			}
			s.sendTo(s.state.Opponent(fx.UserID), types.ServerMessage{
				Type: types.SOpponentReconnected, BattleID: s.state.ID, UserID: fx.UserID,
			})

		case battle.FxFinish:
			s.finish(fx)
		}
	}
}

func (s *Session) handleAction(userID, code, lang, action string) {
	if !s.state.IsParticipant(userID) {
		return
	}
	if s.state.Status != battle.StatusActive {
		s.errorTo(userID, "battle is not active")
		return
	}

	// Optimistic, non-authoritative: the opponent learns something happened
	// before any verdict exists. Never touches battle state.
	s.sendTo(s.state.Opponent(userID), types.ServerMessage{
		Type: types.SOpponentActivity, BattleID: s.state.ID, UserID: userID, Action: action,
	})

	sub := judge.Submission{ProblemSlug: s.state.ProblemSlug, Code: code, Language: lang}
	go func() {
		res, err := s.p.Judge.Execute(s.ctx, sub)
		if err != nil {
			res = judge.ErrorResult("judge unavailable")
		}
		select {
		case s.inbox <- verdict{UserID: userID, Action: action, Result: res}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) handleVerdict(v verdict) {
	if s.state.Status == battle.StatusFinished {
		return // decided while the judge was running; drop
	}

	evType := types.SRunResult
	if v.Action == "submit" {
		evType = types.SSubmitResult
	}
	res := v.Result
	s.broadcast(types.ServerMessage{
		Type: evType, BattleID: s.state.ID, UserID: v.UserID, Result: &res,
	})

	if v.Action == "submit" && v.Result.Status == judge.StatusAccepted {
		s.apply(battle.Event{Type: battle.EvtAccepted, UserID: v.UserID, At: time.Now()}, "")
	}
}

func (s *Session) handleChat(msg Chat) {
	if !s.state.IsParticipant(msg.UserID) {
		return
	}
	if s.state.Status == battle.StatusFinished {
		s.errorTo(msg.UserID, "battle already finished")
		return
	}
	if len(msg.Text) > s.p.ChatMaxLen {
		s.errorTo(msg.UserID, "message too long")
		return
	}
	now := time.Now()
	if last, ok := s.lastChat[msg.UserID]; ok && now.Sub(last) < s.p.ChatCooldown {
		s.errorTo(msg.UserID, "chat cooldown active")
		return
	}
	s.lastChat[msg.UserID] = now
	s.broadcast(types.ServerMessage{
		Type:      types.SMessageReceived,
		BattleID:  s.state.ID,
		UserID:    msg.UserID,
		Message:   msg.Text,
		Timestamp: now.Unix(),
	})
}

func (s *Session) finish(fx battle.Effect) {
	s.stopTimers()

	out := types.ServerMessage{
		Type:     types.SBattleFinish,
		BattleID: s.state.ID,
		WinnerID: fx.WinnerID,
		Reason:   string(fx.Reason),
	}
	s.broadcast(out)
	s.log.Info("battle finished",
		zap.String("winner", fx.WinnerID), zap.String("reason", string(fx.Reason)))

	rec := archive.Record{
		BattleID:     s.state.ID,
		ParticipantA: s.p.A.UserID,
		ParticipantB: s.p.B.UserID,
		ProblemSlug:  s.state.ProblemSlug,
		WinnerID:     fx.WinnerID,
		EndReason:    string(fx.Reason),
		StartedAt:    s.state.StartedAt,
		FinishedAt:   time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.p.Archiver.Save(ctx, rec); err != nil {
			s.log.Warn("archive failed", zap.Error(err))
		}
	}()

	if s.p.OnRetired != nil {
		s.p.OnRetired(s.state.ID)
	}

	// Keep the loop alive briefly so straggler messages (late verdicts,
	// ClientGone from closing sockets) are absorbed instead of piling up
	// on a dead inbox, then stop for good.
	time.AfterFunc(retireLinger, s.cancel)
}

func (s *Session) armTimeLimit() {
	s.timeGen++
	gen := s.timeGen
	if s.timeLimit != nil {
		s.timeLimit.Stop()
	}
	s.timeLimit = time.AfterFunc(s.p.TimeLimit, func() {
		select {
		case s.inbox <- timeLimitFired{Gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) armGrace(userID string) {
	s.graceGen[userID]++
	gen := s.graceGen[userID]
	if t := s.grace[userID]; t != nil {
		t.Stop()
	}
	s.grace[userID] = time.AfterFunc(s.p.GraceWindow, func() {
		select {
		case s.inbox <- graceFired{UserID: userID, Gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) stopTimers() {
	s.timeGen++
	if s.timeLimit != nil {
		s.timeLimit.Stop()
	}
	for id, t := range s.grace {
		s.graceGen[id]++
		t.Stop()
	}
}

func (s *Session) errorTo(userID, msg string) {
	s.sendTo(userID, types.ServerMessage{Type: types.SBattleError, BattleID: s.state.ID, Error: msg})
}

func (s *Session) sendTo(userID string, msg types.ServerMessage) {
	ch := s.outboxes[userID]
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
		// ok
	default:
		// Client is slow/full. Unlike a lobby we can't just drop a duel
		// participant, so drop the message and let ws-level liveness decide.
		s.log.Warn("outbox full, dropping message",
			zap.String("user_id", userID), zap.String("msg_type", msg.Type))
	}
}

func (s *Session) broadcast(msg types.ServerMessage) {
	for id := range s.outboxes {
		s.sendTo(id, msg)
	}
}
