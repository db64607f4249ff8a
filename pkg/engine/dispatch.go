package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/backend"
	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
)

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// dispatch applies the command to its backend and returns the manifest
// message plus the data that gets attested.
func (e *Engine) dispatch(ctx context.Context, req command.Request) (string, map[string]any, error) {
	b := e.backends
	switch c := req.Command.(type) {
	case command.StoreData:
		if b.Storage == nil {
			return "", nil, unavailable("storage")
		}
		key, err := b.Storage.Write(ctx, c.Data, c.Metadata)
		if err != nil {
			return "", nil, err
		}
		return "stored " + short(key), map[string]any{"key": key, "size": len(c.Data)}, nil

	case command.RetrieveData:
		if b.Storage == nil {
			return "", nil, unavailable("storage")
		}
		data, found, err := b.Storage.Read(ctx, c.Key)
		if err != nil {
			return "", nil, err
		}
		if !found {
			return "", nil, backend.Permanent(fmt.Errorf("no data under %s", short(c.Key)))
		}
		return fmt.Sprintf("retrieved %d bytes", len(data)), map[string]any{"key": c.Key, "data": data, "size": len(data)}, nil

	case command.SubmitTransaction:
		if b.Ledger == nil {
			return "", nil, unavailable("ledger")
		}
		tx := c.Tx
		if tx.From == "" {
			tx.From = req.Identity
		}
		if tx.From != req.Identity {
			return "", nil, backend.Permanent(fmt.Errorf("sender %q does not match identity", tx.From))
		}
		hash, err := b.Ledger.Submit(ctx, tx)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s sent, tx %s", tx.Kind, short(hash)), map[string]any{"tx_hash": hash, "kind": string(tx.Kind)}, nil

	case command.QueryBalance:
		if b.Ledger == nil {
			return "", nil, unavailable("ledger")
		}
		who := c.Identity
		if who == "" {
			who = req.Identity
		}
		bal, err := b.Ledger.QueryBalance(ctx, who)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("balance %d", bal), map[string]any{"identity": who, "balance": bal}, nil

	case command.QueryState:
		if b.Ledger == nil {
			return "", nil, unavailable("ledger")
		}
		v, found, err := b.Ledger.QueryState(ctx, c.Key)
		if err != nil {
			return "", nil, err
		}
		if !found {
			return "", nil, backend.Permanent(fmt.Errorf("unknown state key %q", c.Key))
		}
		return c.Key + " = " + v, map[string]any{"key": c.Key, "value": v}, nil

	case command.BroadcastMessage:
		if b.Broadcaster == nil {
			return "", nil, unavailable("broadcast")
		}
		id, err := b.Broadcaster.Send(ctx, c.Topic, c.Payload)
		if err != nil {
			return "", nil, err
		}
		return "sent to " + c.Topic, map[string]any{"message_id": id, "topic": c.Topic}, nil

	case command.ScheduleExecution:
		if b.Scheduler == nil {
			return "", nil, unavailable("scheduler")
		}
		out, err := b.Scheduler.Run(ctx, c.ModuleRef, c.Function, c.Params, time.Duration(c.LimitMs)*time.Millisecond)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s returned %v", c.Function, out), map[string]any{"function": c.Function, "output": out}, nil

	case command.GetStatus:
		s := e.Status(ctx)
		return fmt.Sprintf("height %d, %d peers", s.ChainHeight, s.Peers), map[string]any{
			"queue_depth":  s.QueueDepth,
			"peers":        s.Peers,
			"chain_height": s.ChainHeight,
			"mempool_size": s.MempoolSize,
		}, nil

	case command.Shutdown:
		return "shutting down", map[string]any{"reason": c.Reason}, nil

	default:
		return "", nil, backend.Permanent(fmt.Errorf("unsupported command %T", req.Command))
	}
}
