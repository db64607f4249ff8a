// Package command defines the messages exchanged between the gateway and
// the execution engine.
package command

import "github.com/Stygian-Inc/intent-veil-go/pkg/proof"

// Kind names a Command variant.
type Kind string

const (
	KindStoreData         Kind = "store_data"
	KindRetrieveData      Kind = "retrieve_data"
	KindSubmitTransaction Kind = "submit_transaction"
	KindQueryBalance      Kind = "query_balance"
	KindQueryState        Kind = "query_state"
	KindBroadcastMessage  Kind = "broadcast_message"
	KindScheduleExecution Kind = "schedule_execution"
	KindGetStatus         Kind = "get_status"
	KindShutdown          Kind = "shutdown"
)

// AllKinds lists every variant. Dispatch tables are tested against it.
func AllKinds() []Kind {
	return []Kind{
		KindStoreData, KindRetrieveData, KindSubmitTransaction,
		KindQueryBalance, KindQueryState, KindBroadcastMessage,
		KindScheduleExecution, KindGetStatus, KindShutdown,
	}
}

// RequiresProof reports whether commands of this kind must carry a valid
// proof and an unspent nonce.
func (k Kind) RequiresProof() bool {
	switch k {
	case KindQueryBalance, KindQueryState, KindGetStatus:
		return false
	default:
		return true
	}
}

// Command is a closed set; only types in this package implement it.
type Command interface {
	Kind() Kind
	isCommand()
}

type StoreData struct {
	Data     []byte            `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type RetrieveData struct {
	Key string `json:"key"`
}

type SubmitTransaction struct {
	Tx Transaction `json:"tx"`
}

type QueryBalance struct {
	Identity string `json:"identity"`
}

type QueryState struct {
	Key string `json:"key"`
}

type BroadcastMessage struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type ScheduleExecution struct {
	ModuleRef string   `json:"module_ref"`
	Function  string   `json:"function"`
	Params    []uint64 `json:"params,omitempty"`
	LimitMs   uint64   `json:"limit_ms"`
}

type GetStatus struct{}

type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}

func (StoreData) Kind() Kind         { return KindStoreData }
func (RetrieveData) Kind() Kind      { return KindRetrieveData }
func (SubmitTransaction) Kind() Kind { return KindSubmitTransaction }
func (QueryBalance) Kind() Kind      { return KindQueryBalance }
func (QueryState) Kind() Kind        { return KindQueryState }
func (BroadcastMessage) Kind() Kind  { return KindBroadcastMessage }
func (ScheduleExecution) Kind() Kind { return KindScheduleExecution }
func (GetStatus) Kind() Kind         { return KindGetStatus }
func (Shutdown) Kind() Kind          { return KindShutdown }

func (StoreData) isCommand()         {}
func (RetrieveData) isCommand()      {}
func (SubmitTransaction) isCommand() {}
func (QueryBalance) isCommand()      {}
func (QueryState) isCommand()        {}
func (BroadcastMessage) isCommand()  {}
func (ScheduleExecution) isCommand() {}
func (GetStatus) isCommand()         {}
func (Shutdown) isCommand()          {}

// TxKind is the ledger operation a transaction performs.
type TxKind string

const (
	TxTransfer       TxKind = "transfer"
	TxStake          TxKind = "stake"
	TxUnstake        TxKind = "unstake"
	TxVote           TxKind = "vote"
	TxCreateProposal TxKind = "create_proposal"
)

// Transaction is the payload of SubmitTransaction. Fields not used by Kind
// are left zero.
type Transaction struct {
	Kind        TxKind `json:"kind"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	Memo        string `json:"memo,omitempty"`
	ProposalID  uint64 `json:"proposal_id,omitempty"`
	Approve     bool   `json:"approve,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Request is what travels to the engine: a command plus the authorization
// that covers it. Proof is nil for read-only commands.
type Request struct {
	ID       string
	Identity string
	Proof    *proof.IntentProof
	Command  Command
}
