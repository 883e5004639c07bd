package battle

import (
	"testing"
	"time"
)

func newTestState() State {
	return New("b1", "alice", "bob", "two-sum", 1800*time.Second, time.Now())
}

func activeState(t *testing.T) State {
	t.Helper()
	s := newTestState()
	now := time.Now()
	_, s, err := Apply(s, Event{Type: EvtJoin, UserID: "alice", At: now})
	if err != nil {
		t.Fatalf("alice join: %v", err)
	}
	fx, s, err := Apply(s, Event{Type: EvtJoin, UserID: "bob", At: now})
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if len(fx) != 1 || fx[0].Type != FxStart {
		t.Fatalf("want FxStart after both join, got %+v", fx)
	}
	if s.Status != StatusActive {
		t.Fatalf("want active, got %s", s.Status)
	}
	return s
}

func TestApply_SingleJoinStaysWaiting(t *testing.T) {
	s := newTestState()
	fx, s, err := Apply(s, Event{Type: EvtJoin, UserID: "alice", At: time.Now()})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(fx) != 0 {
		t.Fatalf("want no effects after first join, got %+v", fx)
	}
	if s.Status != StatusWaiting {
		t.Fatalf("want waiting, got %s", s.Status)
	}
}

func TestApply_BothJoinedStarts(t *testing.T) {
	s := activeState(t)
	if s.StartedAt.IsZero() {
		t.Fatal("StartedAt not set on activation")
	}
}

func TestApply_NonParticipantRejected(t *testing.T) {
	s := newTestState()
	_, _, err := Apply(s, Event{Type: EvtJoin, UserID: "mallory", At: time.Now()})
	if err != ErrNotParticipant {
		t.Fatalf("want ErrNotParticipant, got %v", err)
	}
}

func TestApply_AcceptedWins(t *testing.T) {
	s := activeState(t)
	fx, s, err := Apply(s, Event{Type: EvtAccepted, UserID: "alice", At: time.Now()})
	if err != nil {
		t.Fatalf("accepted: %v", err)
	}
	if s.Status != StatusFinished || s.WinnerID != "alice" || s.EndReason != EndAccepted {
		t.Fatalf("want finished/alice/accepted, got %s/%s/%s", s.Status, s.WinnerID, s.EndReason)
	}
	if len(fx) != 1 || fx[0].Type != FxFinish {
		t.Fatalf("want FxFinish, got %+v", fx)
	}
}

func TestApply_AcceptedBeforeActiveRejected(t *testing.T) {
	s := newTestState()
	_, _, err := Apply(s, Event{Type: EvtAccepted, UserID: "alice", At: time.Now()})
	if err != ErrNotActive {
		t.Fatalf("want ErrNotActive, got %v", err)
	}
}

func TestApply_FinishedIsTerminalAndIdempotent(t *testing.T) {
	s := activeState(t)
	_, s, _ = Apply(s, Event{Type: EvtAccepted, UserID: "alice", At: time.Now()})

	// A later accepted from the opponent must not flip the outcome.
	fx, s2, err := Apply(s, Event{Type: EvtAccepted, UserID: "bob", At: time.Now()})
	if err != nil {
		t.Fatalf("late accepted: %v", err)
	}
	if len(fx) != 0 {
		t.Fatalf("want no effects on finished, got %+v", fx)
	}
	if s2.WinnerID != "alice" {
		t.Fatalf("winner changed to %q", s2.WinnerID)
	}

	// Same for timers, forfeits and disconnects.
	for _, ev := range []Event{
		{Type: EvtTimeLimit},
		{Type: EvtForfeit, UserID: "bob"},
		{Type: EvtConnLost, UserID: "bob"},
		{Type: EvtGraceExpired, UserID: "bob"},
	} {
		fx, s3, err := Apply(s, ev)
		if err != nil || len(fx) != 0 || s3.WinnerID != "alice" {
			t.Fatalf("event %s on finished: fx=%+v err=%v winner=%q", ev.Type, fx, err, s3.WinnerID)
		}
	}
}

func TestApply_TimeLimitIsDraw(t *testing.T) {
	s := activeState(t)
	_, s, err := Apply(s, Event{Type: EvtTimeLimit, At: time.Now()})
	if err != nil {
		t.Fatalf("time limit: %v", err)
	}
	if s.Status != StatusFinished || s.WinnerID != "" || s.EndReason != EndTimeout {
		t.Fatalf("want finished draw timeout, got %s/%q/%s", s.Status, s.WinnerID, s.EndReason)
	}
}

func TestApply_TimeLimitBoundsWaitingPhase(t *testing.T) {
	s := newTestState()
	_, s, err := Apply(s, Event{Type: EvtTimeLimit, At: time.Now()})
	if err != nil {
		t.Fatalf("time limit: %v", err)
	}
	if s.Status != StatusFinished || s.EndReason != EndTimeout {
		t.Fatalf("want finished timeout from waiting, got %s/%s", s.Status, s.EndReason)
	}
}

func TestApply_ForfeitAwardsOpponent(t *testing.T) {
	s := activeState(t)
	_, s, err := Apply(s, Event{Type: EvtForfeit, UserID: "alice", At: time.Now()})
	if err != nil {
		t.Fatalf("forfeit: %v", err)
	}
	if s.WinnerID != "bob" || s.EndReason != EndForfeit {
		t.Fatalf("want bob/forfeit, got %q/%s", s.WinnerID, s.EndReason)
	}
}

func TestApply_DisconnectThenRejoin(t *testing.T) {
	s := activeState(t)

	fx, s, err := Apply(s, Event{Type: EvtConnLost, UserID: "bob", At: time.Now()})
	if err != nil {
		t.Fatalf("conn lost: %v", err)
	}
	if len(fx) != 1 || fx[0].Type != FxOpponentDown || fx[0].UserID != "bob" {
		t.Fatalf("want FxOpponentDown(bob), got %+v", fx)
	}
	if s.Status != StatusActive {
		t.Fatalf("loss of one side must not end the battle, got %s", s.Status)
	}

	fx, s, err = Apply(s, Event{Type: EvtJoin, UserID: "bob", At: time.Now()})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(fx) != 1 || fx[0].Type != FxOpponentUp || fx[0].UserID != "bob" {
		t.Fatalf("want FxOpponentUp(bob), got %+v", fx)
	}
	if !s.Participants[1].Connected {
		t.Fatal("bob not marked connected after rejoin")
	}
}

func TestApply_GraceExpiredForfeitsDisconnected(t *testing.T) {
	s := activeState(t)
	_, s, _ = Apply(s, Event{Type: EvtConnLost, UserID: "bob", At: time.Now()})

	_, s, err := Apply(s, Event{Type: EvtGraceExpired, UserID: "bob", At: time.Now()})
	if err != nil {
		t.Fatalf("grace expired: %v", err)
	}
	if s.WinnerID != "alice" || s.EndReason != EndDisconnect {
		t.Fatalf("want alice/disconnect, got %q/%s", s.WinnerID, s.EndReason)
	}
}

func TestApply_GraceExpiredAfterRejoinIsStale(t *testing.T) {
	s := activeState(t)
	_, s, _ = Apply(s, Event{Type: EvtConnLost, UserID: "bob", At: time.Now()})
	_, s, _ = Apply(s, Event{Type: EvtJoin, UserID: "bob", At: time.Now()})

	fx, s, err := Apply(s, Event{Type: EvtGraceExpired, UserID: "bob", At: time.Now()})
	if err != nil || len(fx) != 0 {
		t.Fatalf("stale grace fire must be a no-op: fx=%+v err=%v", fx, err)
	}
	if s.Status != StatusActive {
		t.Fatalf("want still active, got %s", s.Status)
	}
}

func TestApply_BothDisconnectedIsDraw(t *testing.T) {
	s := activeState(t)
	_, s, _ = Apply(s, Event{Type: EvtConnLost, UserID: "alice", At: time.Now()})
	fx, s, err := Apply(s, Event{Type: EvtConnLost, UserID: "bob", At: time.Now()})
	if err != nil {
		t.Fatalf("second conn lost: %v", err)
	}
	if s.Status != StatusFinished || s.WinnerID != "" || s.EndReason != EndDisconnect {
		t.Fatalf("want finished draw disconnect, got %s/%q/%s", s.Status, s.WinnerID, s.EndReason)
	}
	if len(fx) != 1 || fx[0].Type != FxFinish {
		t.Fatalf("want FxFinish, got %+v", fx)
	}
}

func TestOpponent(t *testing.T) {
	s := newTestState()
	if got := s.Opponent("alice"); got != "bob" {
		t.Fatalf("opponent of alice: %q", got)
	}
	if got := s.Opponent("bob"); got != "alice" {
		t.Fatalf("opponent of bob: %q", got)
	}
	if got := s.Opponent("mallory"); got != "" {
		t.Fatalf("opponent of stranger: %q", got)
	}
}
