// Package intent holds the structured form of a user request and its
// canonical byte encoding.
package intent

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gowebpki/jcs"
)

// Action is the closed set of things a user can ask for.
type Action string

const (
	ActionTransfer   Action = "transfer"
	ActionStake      Action = "stake"
	ActionUnstake    Action = "unstake"
	ActionVote       Action = "vote"
	ActionStore      Action = "store"
	ActionRetrieve   Action = "retrieve"
	ActionBalance    Action = "balance"
	ActionQueryState Action = "query_state"
	ActionBroadcast  Action = "broadcast"
	ActionSchedule   Action = "schedule"
	ActionStatus     Action = "status"
	ActionShutdown   Action = "shutdown"
)

// Actions lists every known action.
func Actions() []Action {
	return []Action{
		ActionTransfer, ActionStake, ActionUnstake, ActionVote,
		ActionStore, ActionRetrieve, ActionBalance, ActionQueryState,
		ActionBroadcast, ActionSchedule, ActionStatus, ActionShutdown,
	}
}

func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// ParsedIntent is the output of the understanding layer.
type ParsedIntent struct {
	Action     Action         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Confidence float64        `json:"confidence"`
}

// Encode returns the canonical (RFC 8785) bytes that get committed to.
// Confidence is not part of the encoding.
func (p ParsedIntent) Encode() ([]byte, error) {
	params := p.Parameters
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(struct {
		Action     Action         `json:"action"`
		Parameters map[string]any `json:"parameters"`
	}{p.Action, params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize intent: %w", err)
	}
	return out, nil
}

// Decode parses a JSON intent document.
func Decode(data []byte) (ParsedIntent, error) {
	var p ParsedIntent
	if err := json.Unmarshal(data, &p); err != nil {
		return ParsedIntent{}, fmt.Errorf("failed to parse intent: %w", err)
	}
	if p.Parameters == nil {
		p.Parameters = map[string]any{}
	}
	return p, nil
}

// String returns a string parameter, or "" when absent or not a string.
func (p ParsedIntent) String(key string) string {
	s, _ := p.Parameters[key].(string)
	return s
}

// Uint returns an unsigned integer parameter. JSON numbers and numeric
// strings are accepted.
func (p ParsedIntent) Uint(key string) (uint64, error) {
	v, ok := p.Parameters[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, fmt.Errorf("parameter %q is not an unsigned integer", key)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("parameter %q is negative", key)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return u, nil
	default:
		return 0, fmt.Errorf("parameter %q has unsupported type %T", key, v)
	}
}

// Bool returns a boolean parameter, false when absent.
func (p ParsedIntent) Bool(key string) bool {
	b, _ := p.Parameters[key].(bool)
	return b
}
