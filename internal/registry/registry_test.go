package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeduel-live/battle-backend/internal/archive"
	"github.com/codeduel-live/battle-backend/internal/judge"
	"github.com/codeduel-live/battle-backend/internal/problems"
	"github.com/codeduel-live/battle-backend/internal/session"
	"github.com/codeduel-live/battle-backend/internal/types"
)

type stubJudge struct{}

func (stubJudge) Execute(context.Context, judge.Submission) (judge.Result, error) {
	return judge.Result{Status: judge.StatusWrongAnswer}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, Params{
		Problems:     problems.NewStaticRepo(nil, 1),
		Judge:        stubJudge{},
		Archiver:     archive.NopArchiver{},
		TimeLimit:    time.Hour,
		GraceWindow:  time.Hour,
		ChatCooldown: time.Hour,
		ChatMaxLen:   100,
		Log:          zap.NewNop(),
	})
}

func participants() (session.Participant, session.Participant, chan types.ServerMessage, chan types.ServerMessage) {
	aOut := make(chan types.ServerMessage, 16)
	bOut := make(chan types.ServerMessage, 16)
	return session.Participant{UserID: "alice", Outbox: aOut},
		session.Participant{UserID: "bob", Outbox: bOut},
		aOut, bOut
}

func TestRegistry_CreateBindsBothUsers(t *testing.T) {
	r := newTestRegistry(t)
	a, b, aOut, bOut := participants()

	sess := r.CreateBattle(a, b)
	require.NotNil(t, sess)

	ma := <-aOut
	mb := <-bOut
	require.Equal(t, types.SBattleMatched, ma.Type)
	require.Equal(t, ma.BattleID, mb.BattleID)

	id, ok := r.UserBattle("alice")
	require.True(t, ok)
	require.Equal(t, sess.ID(), id)
	require.True(t, r.UserInBattle("bob"))

	got, err := r.Lookup(id)
	require.NoError(t, err)
	require.Same(t, sess, got)
}

func TestRegistry_LookupUnknownBattle(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Lookup("no-such-battle")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, ok := r.UserBattle("nobody")
	require.False(t, ok)
}

func TestRegistry_FinishedBattleIsRetired(t *testing.T) {
	r := newTestRegistry(t)
	a, b, aOut, bOut := participants()

	sess := r.CreateBattle(a, b)
	<-aOut
	<-bOut

	// Forfeit is legal in waiting too; it drives the session to finished,
	// which triggers the retire callback back into the registry.
	sess.Inbox() <- session.Forfeit{UserID: "alice"}

	require.Eventually(t, func() bool {
		_, err := r.Lookup(sess.ID())
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "finished battle still routable")

	require.False(t, r.UserInBattle("alice"))
	require.False(t, r.UserInBattle("bob"))

	// Stale actions now fail at routing, affecting nobody else.
	_, err := r.Lookup(sess.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_RetiredUsersCanRequeue(t *testing.T) {
	r := newTestRegistry(t)
	a, b, aOut, bOut := participants()

	sess := r.CreateBattle(a, b)
	<-aOut
	<-bOut
	sess.Inbox() <- session.Forfeit{UserID: "bob"}

	require.Eventually(t, func() bool {
		return !r.UserInBattle("alice") && !r.UserInBattle("bob")
	}, 2*time.Second, 10*time.Millisecond)

	// Pairing the same users again mints a fresh battle id.
	a2, b2, a2Out, b2Out := participants()
	sess2 := r.CreateBattle(a2, b2)
	require.NotEqual(t, sess.ID(), sess2.ID())
	<-a2Out
	<-b2Out
}
