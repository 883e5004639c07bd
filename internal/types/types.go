package types

import (
	"github.com/codeduel-live/battle-backend/internal/judge"
	"github.com/codeduel-live/battle-backend/internal/problems"
)

// Client -> Server event names.
const (
	CJoinQueue  = "join-battle-queue"
	CLeaveQueue = "leave-battle-queue"
	CJoinBattle = "join-battle"
	CRun        = "battle-run"
	CSubmit     = "battle-submit"
	CMessage    = "battle-message"
	CForfeit    = "battle-forfeit"
)

// Server -> Client event names.
const (
	SQueueStatus          = "queue-status"
	SBattleMatched        = "battle-matched"
	SBattleStart          = "battle-start"
	SOpponentActivity     = "battle-opponent-activity"
	SRunResult            = "battle-run-result"
	SSubmitResult         = "battle-submit-result"
	SBattleFinish         = "battle-finish"
	SOpponentDisconnected = "battle-opponent-disconnected"
	SOpponentReconnected  = "battle-opponent-reconnected"
	SMessageReceived      = "battle-message-received"
	SBattleError          = "battle-error"
)

type ClientMessage struct {
	Type     string `json:"type"`
	BattleID string `json:"battle_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
	Message  string `json:"message,omitempty"`
}

type ServerMessage struct {
	Type         string            `json:"type"`
	BattleID     string            `json:"battle_id,omitempty"`
	UsersInQueue int               `json:"users_in_queue,omitempty"`
	Opponent     string            `json:"opponent,omitempty"`
	Problem      *problems.Problem `json:"problem,omitempty"`
	TimeLimit    int               `json:"time_limit,omitempty"` // seconds
	UserID       string            `json:"user_id,omitempty"`
	Action       string            `json:"action,omitempty"` // "run" | "submit" on activity events
	Result       *judge.Result     `json:"result,omitempty"`
	WinnerID     string            `json:"winner_id,omitempty"` // empty on battle-finish means draw
	Reason       string            `json:"reason,omitempty"`
	Message      string            `json:"message,omitempty"`
	Timestamp    int64             `json:"timestamp,omitempty"`
	Error        string            `json:"error,omitempty"`
}
