package battle

import (
	"errors"
	"time"
)

var ErrNotParticipant = errors.New("user is not a participant of this battle")
var ErrNotActive = errors.New("battle is not active")
var ErrUnsupportedEvent = errors.New("unsupported event")

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

type EndReason string

const (
	EndAccepted   EndReason = "accepted"
	EndTimeout    EndReason = "timeout"
	EndForfeit    EndReason = "forfeit"
	EndDisconnect EndReason = "disconnect"
)

type Participant struct {
	UserID    string
	Joined    bool
	Connected bool
	LastSeen  time.Time
}

// State is the full description of one battle. Apply never mutates its
// receiver; the session loop owns the single live copy.
type State struct {
	ID           string
	Participants [2]Participant
	ProblemSlug  string
	Status       Status
	StartedAt    time.Time
	TimeLimit    time.Duration
	WinnerID     string
	EndReason    EndReason
}

type EventType string

const (
	EvtJoin         EventType = "Join"         // participant joined (or rejoined) the session channel
	EvtAccepted     EventType = "Accepted"     // ACCEPTED verdict on a submit from UserID
	EvtTimeLimit    EventType = "TimeLimit"    // the time-limit timer fired
	EvtForfeit      EventType = "Forfeit"      // explicit forfeit by UserID
	EvtConnLost     EventType = "ConnLost"     // transport-level loss for UserID
	EvtGraceExpired EventType = "GraceExpired" // UserID's reconnect grace window elapsed
)

type Event struct {
	Type   EventType
	UserID string
	At     time.Time
}

type EffectType string

const (
	FxStart        EffectType = "Start"        // both joined: announce battle-start
	FxFinish       EffectType = "Finish"       // terminal: announce outcome, cancel timers
	FxOpponentDown EffectType = "OpponentDown" // start grace timer for UserID, tell the other side
	FxOpponentUp   EffectType = "OpponentUp"   // cancel grace timer for UserID, tell the other side
)

type Effect struct {
	Type     EffectType
	UserID   string
	WinnerID string
	Reason   EndReason
}

func New(id, userA, userB, problemSlug string, timeLimit time.Duration, now time.Time) State {
	return State{
		ID: id,
		Participants: [2]Participant{
			{UserID: userA, Connected: true, LastSeen: now},
			{UserID: userB, Connected: true, LastSeen: now},
		},
		ProblemSlug: problemSlug,
		Status:      StatusWaiting,
		TimeLimit:   timeLimit,
	}
}

func (s State) seat(userID string) int {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Opponent returns the other participant's user id, or "" if userID is not
// a participant.
func (s State) Opponent(userID string) string {
	switch s.seat(userID) {
	case 0:
		return s.Participants[1].UserID
	case 1:
		return s.Participants[0].UserID
	default:
		return ""
	}
}

func (s State) IsParticipant(userID string) bool { return s.seat(userID) >= 0 }

// Apply is the transition table. It returns the effects the caller must
// perform, the successor state, and an error for events that are illegal in
// the current state. Session-ending events arriving after the battle has
// finished are absorbed silently: finished is terminal and idempotent.
func Apply(s State, ev Event) ([]Effect, State, error) {
	if ev.UserID != "" && !s.IsParticipant(ev.UserID) {
		return nil, s, ErrNotParticipant
	}

	if s.Status == StatusFinished {
		// Late timers, duplicate forfeits, racing verdicts: all no-ops.
		return nil, s, nil
	}

	next := s

	switch ev.Type {
	case EvtJoin:
		i := s.seat(ev.UserID)
		p := &next.Participants[i]
		wasDown := !p.Connected
		p.Connected = true
		p.LastSeen = ev.At

		if s.Status == StatusActive {
			if wasDown {
				return []Effect{{Type: FxOpponentUp, UserID: ev.UserID}}, next, nil
			}
			return nil, next, nil // duplicate join, harmless
		}
		p.Joined = true
		if next.Participants[0].Joined && next.Participants[1].Joined {
			next.Status = StatusActive
			next.StartedAt = ev.At
			return []Effect{{Type: FxStart}}, next, nil
		}
		return nil, next, nil

	case EvtAccepted:
		if s.Status != StatusActive {
			return nil, s, ErrNotActive
		}
		return finish(next, ev.UserID, EndAccepted)

	case EvtTimeLimit:
		// Also bounds a session stuck in waiting: nobody wins either way.
		return finish(next, "", EndTimeout)

	case EvtForfeit:
		return finish(next, s.Opponent(ev.UserID), EndForfeit)

	case EvtConnLost:
		i := s.seat(ev.UserID)
		next.Participants[i].Connected = false
		next.Participants[i].LastSeen = ev.At
		if !next.Participants[0].Connected && !next.Participants[1].Connected {
			// Both sides gone: deterministic draw instead of racing two
			// grace timers against each other.
			return finish(next, "", EndDisconnect)
		}
		return []Effect{{Type: FxOpponentDown, UserID: ev.UserID}}, next, nil

	case EvtGraceExpired:
		i := s.seat(ev.UserID)
		if s.Participants[i].Connected {
			// Reconnected before the timer was reaped; stale fire.
			return nil, s, nil
		}
		return finish(next, s.Opponent(ev.UserID), EndDisconnect)

	default:
		return nil, s, ErrUnsupportedEvent
	}
}

func finish(s State, winnerID string, reason EndReason) ([]Effect, State, error) {
	s.Status = StatusFinished
	s.WinnerID = winnerID
	s.EndReason = reason
	return []Effect{{Type: FxFinish, WinnerID: winnerID, Reason: reason}}, s, nil
}
