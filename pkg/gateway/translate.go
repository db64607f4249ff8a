package gateway

import (
	"errors"
	"fmt"

	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
	"github.com/Stygian-Inc/intent-veil-go/pkg/intent"
)

var ErrUnknownAction = errors.New("unknown action")

// Translate maps an intent to the command that carries it out.
func Translate(identity string, in intent.ParsedIntent) (command.Command, error) {
	switch in.Action {
	case intent.ActionTransfer:
		to := in.String("to")
		if to == "" {
			return nil, errors.New("transfer needs a recipient")
		}
		amount, err := in.Uint("amount")
		if err != nil {
			return nil, err
		}
		return command.SubmitTransaction{Tx: command.Transaction{
			Kind: command.TxTransfer, From: identity, To: to, Amount: amount, Memo: in.String("memo"),
		}}, nil

	case intent.ActionStake, intent.ActionUnstake:
		amount, err := in.Uint("amount")
		if err != nil {
			return nil, err
		}
		kind := command.TxStake
		if in.Action == intent.ActionUnstake {
			kind = command.TxUnstake
		}
		return command.SubmitTransaction{Tx: command.Transaction{Kind: kind, From: identity, Amount: amount}}, nil

	case intent.ActionVote:
		if title := in.String("title"); title != "" {
			return command.SubmitTransaction{Tx: command.Transaction{
				Kind: command.TxCreateProposal, From: identity, Title: title, Description: in.String("description"),
			}}, nil
		}
		id, err := in.Uint("proposal_id")
		if err != nil {
			return nil, err
		}
		return command.SubmitTransaction{Tx: command.Transaction{
			Kind: command.TxVote, From: identity, ProposalID: id, Approve: in.Bool("approve"),
		}}, nil

	case intent.ActionStore:
		data := in.String("data")
		if data == "" {
			return nil, errors.New("nothing to store")
		}
		var md map[string]string
		if raw, ok := in.Parameters["metadata"].(map[string]any); ok {
			md = make(map[string]string, len(raw))
			for k, v := range raw {
				md[k] = fmt.Sprint(v)
			}
		}
		return command.StoreData{Data: []byte(data), Metadata: md}, nil

	case intent.ActionRetrieve:
		key := in.String("key")
		if key == "" {
			return nil, errors.New("retrieve needs a key")
		}
		return command.RetrieveData{Key: key}, nil

	case intent.ActionBalance:
		who := in.String("identity")
		if who == "" {
			who = identity
		}
		return command.QueryBalance{Identity: who}, nil

	case intent.ActionQueryState:
		key := in.String("key")
		if key == "" {
			return nil, errors.New("query needs a key")
		}
		return command.QueryState{Key: key}, nil

	case intent.ActionBroadcast:
		msg := in.String("message")
		if msg == "" {
			return nil, errors.New("nothing to broadcast")
		}
		topic := in.String("topic")
		if topic == "" {
			topic = "general"
		}
		return command.BroadcastMessage{Topic: topic, Payload: []byte(msg)}, nil

	case intent.ActionSchedule:
		module, function := in.String("module"), in.String("function")
		if module == "" || function == "" {
			return nil, errors.New("schedule needs a module and a function")
		}
		var params []uint64
		if raw, ok := in.Parameters["params"].([]any); ok {
			for i, v := range raw {
				p := intent.ParsedIntent{Parameters: map[string]any{"p": v}}
				n, err := p.Uint("p")
				if err != nil {
					return nil, fmt.Errorf("param %d: %w", i, err)
				}
				params = append(params, n)
			}
		}
		var limit uint64
		if _, ok := in.Parameters["limit_ms"]; ok {
			l, err := in.Uint("limit_ms")
			if err != nil {
				return nil, err
			}
			limit = l
		}
		return command.ScheduleExecution{ModuleRef: module, Function: function, Params: params, LimitMs: limit}, nil

	case intent.ActionStatus:
		return command.GetStatus{}, nil

	case intent.ActionShutdown:
		return command.Shutdown{Reason: in.String("reason")}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAction, in.Action)
}
