package backend

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownProposal   = errors.New("unknown proposal")
	ErrInvalidTx         = errors.New("invalid transaction")
)

type Proposal struct {
	ID          uint64
	Title       string
	Description string
	Proposer    string
	Yes, No     uint64
}

type Block struct {
	Height    uint64
	Hash      common.Hash
	Parent    common.Hash
	TxHashes  []common.Hash
	Timestamp time.Time
}

// MemoryLedger is a single-node chain. Submit validates a transaction and
// applies it to state at once; the transaction then waits in the mempool
// until ProduceBlock seals it.
type MemoryLedger struct {
	mu        sync.Mutex
	balances  map[string]uint64
	stakes    map[string]uint64
	proposals map[uint64]*Proposal
	votes     map[string]bool
	mempool   []common.Hash
	included  map[common.Hash]uint64
	blocks    []Block
	seq       uint64
	now       func() time.Time
}

func NewMemoryLedger(genesis map[string]uint64) *MemoryLedger {
	l := &MemoryLedger{
		balances:  make(map[string]uint64, len(genesis)),
		stakes:    make(map[string]uint64),
		proposals: make(map[uint64]*Proposal),
		votes:     make(map[string]bool),
		included:  make(map[common.Hash]uint64),
		now:       time.Now,
	}
	for id, amount := range genesis {
		l.balances[id] = amount
	}
	l.blocks = append(l.blocks, Block{Height: 0, Hash: ethcrypto.Keccak256Hash([]byte("genesis")), Timestamp: l.now()})
	return l
}

func (l *MemoryLedger) Submit(_ context.Context, tx command.Transaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.From == "" {
		return "", Permanent(fmt.Errorf("%w: missing sender", ErrInvalidTx))
	}
	if err := l.apply(tx); err != nil {
		return "", err
	}

	l.seq++
	raw, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to encode tx: %w", err)
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.seq)
	h := ethcrypto.Keccak256Hash(raw, seq[:])
	l.mempool = append(l.mempool, h)
	return h.Hex(), nil
}

func (l *MemoryLedger) apply(tx command.Transaction) error {
	switch tx.Kind {
	case command.TxTransfer:
		if tx.To == "" || tx.Amount == 0 {
			return Permanent(fmt.Errorf("%w: transfer needs a recipient and an amount", ErrInvalidTx))
		}
		if l.balances[tx.From] < tx.Amount {
			return Permanent(ErrInsufficientFunds)
		}
		l.balances[tx.From] -= tx.Amount
		l.balances[tx.To] += tx.Amount
	case command.TxStake:
		if tx.Amount == 0 || l.balances[tx.From] < tx.Amount {
			return Permanent(ErrInsufficientFunds)
		}
		l.balances[tx.From] -= tx.Amount
		l.stakes[tx.From] += tx.Amount
	case command.TxUnstake:
		if tx.Amount == 0 || l.stakes[tx.From] < tx.Amount {
			return Permanent(fmt.Errorf("%w: not enough staked", ErrInsufficientFunds))
		}
		l.stakes[tx.From] -= tx.Amount
		l.balances[tx.From] += tx.Amount
	case command.TxVote:
		p, ok := l.proposals[tx.ProposalID]
		if !ok {
			return Permanent(ErrUnknownProposal)
		}
		voter := strconv.FormatUint(tx.ProposalID, 10) + ":" + tx.From
		if l.votes[voter] {
			return Permanent(fmt.Errorf("%w: already voted", ErrInvalidTx))
		}
		l.votes[voter] = true
		weight := l.stakes[tx.From]
		if weight == 0 {
			weight = 1
		}
		if tx.Approve {
			p.Yes += weight
		} else {
			p.No += weight
		}
	case command.TxCreateProposal:
		if tx.Title == "" {
			return Permanent(fmt.Errorf("%w: proposal needs a title", ErrInvalidTx))
		}
		id := uint64(len(l.proposals) + 1)
		l.proposals[id] = &Proposal{ID: id, Title: tx.Title, Description: tx.Description, Proposer: tx.From}
	default:
		return Permanent(fmt.Errorf("%w: unknown kind %q", ErrInvalidTx, tx.Kind))
	}
	return nil
}

func (l *MemoryLedger) QueryBalance(_ context.Context, identity string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[identity], nil
}

// QueryState understands "height", "stake:<identity>", "proposal:<id>" and
// "tx:<hash>".
func (l *MemoryLedger) QueryState(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name, arg, _ := strings.Cut(key, ":")
	switch name {
	case "height":
		return strconv.FormatUint(l.height(), 10), true, nil
	case "stake":
		return strconv.FormatUint(l.stakes[arg], 10), true, nil
	case "proposal":
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return "", false, nil
		}
		p, ok := l.proposals[id]
		if !ok {
			return "", false, nil
		}
		return fmt.Sprintf("%s yes=%d no=%d", p.Title, p.Yes, p.No), true, nil
	case "tx":
		h := common.HexToHash(arg)
		if height, ok := l.included[h]; ok {
			return "included:" + strconv.FormatUint(height, 10), true, nil
		}
		for _, p := range l.mempool {
			if p == h {
				return "pending", true, nil
			}
		}
		return "", false, nil
	}
	return "", false, nil
}

// ProduceBlock seals the mempool into a new block.
func (l *MemoryLedger) ProduceBlock() Block {
	l.mu.Lock()
	defer l.mu.Unlock()

	parent := l.blocks[len(l.blocks)-1]
	b := Block{
		Height:    parent.Height + 1,
		Parent:    parent.Hash,
		TxHashes:  l.mempool,
		Timestamp: l.now(),
	}
	parts := [][]byte{parent.Hash.Bytes()}
	for _, h := range b.TxHashes {
		parts = append(parts, h.Bytes())
		l.included[h] = b.Height
	}
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], b.Height)
	parts = append(parts, height[:])
	b.Hash = ethcrypto.Keccak256Hash(parts...)

	l.blocks = append(l.blocks, b)
	l.mempool = nil
	return b
}

func (l *MemoryLedger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height()
}

func (l *MemoryLedger) height() uint64 {
	return l.blocks[len(l.blocks)-1].Height
}

func (l *MemoryLedger) MempoolSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mempool)
}
