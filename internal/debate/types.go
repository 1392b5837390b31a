package debate

import (
	"strings"
	"time"
)

type State string

const (
	StateAwaitingOpponent    State = "AWAITING_OPPONENT"
	StateAwaitingProposer    State = "AWAITING_PROPOSER"
	StateAwaitingArbitrator  State = "AWAITING_ARBITRATOR"
	StateInterventionPending State = "INTERVENTION_PENDING"
	StateClosed              State = "CLOSED"
)

var allStates = []State{
	StateAwaitingOpponent,
	StateAwaitingProposer,
	StateAwaitingArbitrator,
	StateInterventionPending,
	StateClosed,
}

type ArgumentType string

const (
	ArgumentMotion       ArgumentType = "MOTION"
	ArgumentClaim        ArgumentType = "CLAIM"
	ArgumentAppeal       ArgumentType = "APPEAL"
	ArgumentRuling       ArgumentType = "RULING"
	ArgumentIntervention ArgumentType = "INTERVENTION"
	ArgumentResolution   ArgumentType = "RESOLUTION"
)

type Role string

const (
	RoleProposer   Role = "proposer"
	RoleOpponent   Role = "opponent"
	RoleArbitrator Role = "arbitrator"
)

var allRoles = []Role{RoleProposer, RoleOpponent, RoleArbitrator}

type Action string

const (
	ActionSubmitClaim        Action = "submit_claim"
	ActionSubmitAppeal       Action = "submit_appeal"
	ActionSubmitResolution   Action = "submit_resolution"
	ActionSubmitIntervention Action = "submit_intervention"
	ActionSubmitRuling       Action = "submit_ruling"
)

type WaitAction string

const (
	WaitRespond       WaitAction = "respond"
	WaitForRuling     WaitAction = "wait_for_ruling"
	WaitAlignToRuling WaitAction = "align_to_ruling"
	WaitForProposer   WaitAction = "wait_for_proposer"
	WaitDebateClosed  WaitAction = "debate_closed"
)

// Fixed-width so that lexical order of stored values matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

type Debate struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	DebateType string    `json:"debate_type"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Argument struct {
	ID              string       `json:"id"`
	DebateID        string       `json:"debate_id"`
	ParentID        *string      `json:"parent_id"`
	Type            ArgumentType `json:"type"`
	Role            Role         `json:"role"`
	Content         string       `json:"content"`
	ClientRequestID *string      `json:"client_request_id"`
	Seq             int64        `json:"seq"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Result is the (debate, argument) pair returned by every write.
type Result struct {
	Debate   Debate   `json:"debate"`
	Argument Argument `json:"argument"`
}

type DebateList struct {
	Debates []Debate `json:"debates"`
	Total   int      `json:"total"`
}

type DebateView struct {
	Debate    Debate     `json:"debate"`
	Motion    *Argument  `json:"motion"`
	Arguments []Argument `json:"arguments"`
}

type Snapshot struct {
	Debate    Debate     `json:"debate"`
	Arguments []Argument `json:"arguments"`
}

type ListFilter struct {
	State  State
	Limit  int
	Offset int
}

func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, candidate := range allRoles {
		if role == candidate {
			return role, true
		}
	}
	return "", false
}

func ParseState(raw string) (State, bool) {
	state := State(strings.ToUpper(strings.TrimSpace(raw)))
	for _, candidate := range allStates {
		if state == candidate {
			return state, true
		}
	}
	return "", false
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(raw string) (time.Time, error) {
	return time.Parse(timestampLayout, raw)
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
