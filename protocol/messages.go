// Package protocol defines the JSON wire messages exchanged between the
// LuckyFive server and its clients. Client requests travel as an Envelope
// with a raw payload; server replies and broadcasts travel as an Event with
// a typed payload. Timestamps are unix milliseconds; the freezeIn/resultIn
// fields are millisecond durations relative to serverTime.
package protocol

import "encoding/json"

// NumLines is the number of wagering lines in every round.
const NumLines = 5

// Client request types.
const (
	TypeAuthenticate    = "authenticate"
	TypeJoin            = "join"
	TypePlaceBet        = "place_bet"
	TypeSubmitFinalBets = "submit_final_bets"
)

// Server event types.
const (
	TypeAuthenticated = "authenticated"
	TypeAuthError     = "auth_error"
	TypeCurrentState  = "current_state"
	TypePlaceBetAck   = "place_bet_ack"
	TypeBetAccepted   = "bet_accepted"
	TypeBetError      = "bet_error"
	TypeStartRound    = "start_round"
	TypeFreezeBets    = "freeze_bets"
	TypeRoundResult   = "round_result"
)

// Wager mutation ops for place_bet.
const (
	OpAdd    = "add"
	OpRemove = "remove"
)

// bet_error codes.
const (
	BetErrRoundMismatch    = "round_mismatch"
	BetErrRoundClosed      = "round_closed"
	BetErrAlreadySubmitted = "already_submitted"
	BetErrInvalidWager     = "invalid_wager"
	BetErrInsufficient     = "insufficient_funds"
	BetErrServer           = "server_error"
	BetErrUnauthenticated  = "unauthenticated"
)

// Envelope is a client-to-server message. Data holds the request payload
// and stays raw until the type is known.
type Envelope struct {
	Type  string          `json:"type"`
	ReqID string          `json:"reqId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a server-to-client message. ReqID echoes the request it answers;
// broadcasts leave it empty.
type Event struct {
	Type  string      `json:"type"`
	ReqID string      `json:"reqId,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type AuthenticateRequest struct {
	Token string `json:"token"`
}

type AuthenticatedPayload struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

type CurrentStatePayload struct {
	RoundID    int64 `json:"roundId"`
	ServerTime int64 `json:"serverTime"`
	FreezeIn   int64 `json:"freezeIn"`
	ResultIn   int64 `json:"resultIn"`
	IsOpen     bool  `json:"isOpen"`
}

type PlaceBetRequest struct {
	Line   int    `json:"line"`
	Amount int64  `json:"amount"`
	Op     string `json:"op"`
}

// PlaceBetAck reports the full wager set after a successful mutation so the
// client can redraw its stakes without tracking deltas.
type PlaceBetAck struct {
	Success bool            `json:"success"`
	Wagers  [NumLines]int64 `json:"wagers"`
	Error   string          `json:"error,omitempty"`
}

type SubmitFinalBetsRequest struct {
	RoundID int64           `json:"roundId"`
	Wagers  [NumLines]int64 `json:"wagers"`
	Total   int64           `json:"total"`
}

type BetAcceptedPayload struct {
	NewBalance int64 `json:"newBalance"`
}

type BetErrorPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type StartRoundPayload struct {
	RoundID    int64 `json:"roundId"`
	ServerTime int64 `json:"serverTime"`
	FreezeIn   int64 `json:"freezeIn"`
	ResultIn   int64 `json:"resultIn"`
}

type FreezeBetsPayload struct {
	RoundID    int64 `json:"roundId"`
	ServerTime int64 `json:"serverTime"`
}

// RoundResultPayload is broadcast to every connection; the copy sent to a
// winning connection additionally carries WinAmount and NewBalance.
type RoundResultPayload struct {
	RoundID     int64  `json:"roundId"`
	WinningLine int    `json:"winningLine"`
	ServerTime  int64  `json:"serverTime"`
	WinAmount   *int64 `json:"winAmount,omitempty"`
	NewBalance  *int64 `json:"newBalance,omitempty"`
}
