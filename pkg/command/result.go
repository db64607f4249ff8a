package command

// Result is a closed set: Success, Failure or Pending.
type Result interface {
	CorrelationID() string
	isResult()
}

// Success carries the command output. AttestationPending is set when the
// effect was applied but its audit record could not be written.
type Success struct {
	ID                 string
	Message            string
	Data               map[string]any
	AttestationPending bool
	Warning            string
}

// Failure is the only way an error crosses the channel. Recoverable tells
// the caller whether resubmitting (with a fresh nonce) may succeed.
type Failure struct {
	ID          string
	Error       string
	Recoverable bool
}

// Pending means the command was accepted but its effect is not final yet.
type Pending struct {
	ID         string
	EstimateMs uint64
}

func (r Success) CorrelationID() string { return r.ID }
func (r Failure) CorrelationID() string { return r.ID }
func (r Pending) CorrelationID() string { return r.ID }

func (Success) isResult() {}
func (Failure) isResult() {}
func (Pending) isResult() {}

// Reasons used in Failure.Error.
const (
	ReasonReplay        = "replay"
	ReasonMissingProof  = "missing proof"
	ReasonInvalidProof  = "invalid proof"
	ReasonTimeout       = "timeout"
	ReasonChannelClosed = "channel closed"
	ReasonShuttingDown  = "engine shutting down"
)

// WithID returns r re-addressed to id.
func WithID(r Result, id string) Result {
	switch v := r.(type) {
	case Success:
		v.ID = id
		return v
	case Failure:
		v.ID = id
		return v
	case Pending:
		v.ID = id
		return v
	default:
		return Failure{ID: id, Error: "unknown result type"}
	}
}
