package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addSpinModule exports add(i64, i64) i64 and spin(), an infinite loop.
var addSpinModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// types: (i64, i64) -> i64, () -> ()
	0x01, 0x0a, 0x02, 0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e, 0x60, 0x00, 0x00,
	// functions
	0x03, 0x03, 0x02, 0x00, 0x01,
	// exports: "add" -> 0, "spin" -> 1
	0x07, 0x0e, 0x02,
	0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x04, 0x73, 0x70, 0x69, 0x6e, 0x00, 0x01,
	// code
	0x0a, 0x11, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b,
	0x07, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b,
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(base)
	assert.True(t, IsNonRecoverable(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsNonRecoverable(base))
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	key, err := s.Write(ctx, []byte("hello"), map[string]string{"owner": "did:a"})
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", key)

	data, found, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)

	md, ok := s.Metadata(key)
	require.True(t, ok)
	assert.Equal(t, "did:a", md["owner"])

	_, found, err = s.Read(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryLedgerTransfers(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]uint64{"did:a": 100})

	h1, err := l.Submit(ctx, command.Transaction{Kind: command.TxTransfer, From: "did:a", To: "alice", Amount: 50})
	require.NoError(t, err)
	h2, err := l.Submit(ctx, command.Transaction{Kind: command.TxTransfer, From: "did:a", To: "alice", Amount: 50})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "identical transactions get distinct hashes")

	bal, _ := l.QueryBalance(ctx, "alice")
	assert.Equal(t, uint64(100), bal)

	_, err = l.Submit(ctx, command.Transaction{Kind: command.TxTransfer, From: "did:a", To: "alice", Amount: 1})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, IsNonRecoverable(err))

	assert.Equal(t, 2, l.MempoolSize())
	state, found, _ := l.QueryState(ctx, "tx:"+h1)
	require.True(t, found)
	assert.Equal(t, "pending", state)

	b := l.ProduceBlock()
	assert.Equal(t, uint64(1), b.Height)
	assert.Len(t, b.TxHashes, 2)
	assert.Equal(t, 0, l.MempoolSize())
	assert.Equal(t, uint64(1), l.Height())

	state, _, _ = l.QueryState(ctx, "tx:"+h1)
	assert.Equal(t, "included:1", state)

	next := l.ProduceBlock()
	assert.Equal(t, b.Hash, next.Parent)
}

func TestMemoryLedgerGovernance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]uint64{"did:a": 10})

	_, err := l.Submit(ctx, command.Transaction{Kind: command.TxStake, From: "did:a", Amount: 4})
	require.NoError(t, err)
	_, err = l.Submit(ctx, command.Transaction{Kind: command.TxCreateProposal, From: "did:a", Title: "raise limits"})
	require.NoError(t, err)
	_, err = l.Submit(ctx, command.Transaction{Kind: command.TxVote, From: "did:a", ProposalID: 1, Approve: true})
	require.NoError(t, err)

	_, err = l.Submit(ctx, command.Transaction{Kind: command.TxVote, From: "did:a", ProposalID: 1, Approve: true})
	assert.ErrorIs(t, err, ErrInvalidTx)
	_, err = l.Submit(ctx, command.Transaction{Kind: command.TxVote, From: "did:a", ProposalID: 9})
	assert.ErrorIs(t, err, ErrUnknownProposal)

	v, found, _ := l.QueryState(ctx, "proposal:1")
	require.True(t, found)
	assert.Equal(t, "raise limits yes=4 no=0", v)

	_, err = l.Submit(ctx, command.Transaction{Kind: command.TxUnstake, From: "did:a", Amount: 4})
	require.NoError(t, err)
	bal, _ := l.QueryBalance(ctx, "did:a")
	assert.Equal(t, uint64(10), bal)

	_, err = l.Submit(ctx, command.Transaction{Kind: command.TxUnstake, From: "did:a", Amount: 1})
	assert.True(t, IsNonRecoverable(err))

	_, err = l.Submit(ctx, command.Transaction{Kind: "mint", From: "did:a"})
	assert.ErrorIs(t, err, ErrInvalidTx)
}

func TestMemoryBroadcaster(t *testing.T) {
	b := NewMemoryBroadcaster(3)
	id, err := b.Send(context.Background(), "news", []byte("hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, b.Peers(context.Background()))
	require.Len(t, b.Messages(), 1)
	assert.Equal(t, "news", b.Messages()[0].Topic)

	_, err = b.Send(context.Background(), "", nil)
	assert.True(t, IsNonRecoverable(err))
}

func TestRedisBroadcaster(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	b, err := NewRedisBroadcaster("redis://"+mr.Addr(), "veiltest:")
	require.NoError(t, err)
	defer b.Close()
	assert.Zero(t, b.Peers(ctx))

	sub := b.Subscribe(ctx, "news")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	id, err := b.Send(ctx, "news", []byte("hi"))
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, id)
	assert.GreaterOrEqual(t, b.Peers(ctx), 1)
}

func TestWasmScheduler(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	ref, err := storage.Write(ctx, addSpinModule, nil)
	require.NoError(t, err)

	s := NewWasmScheduler(ctx, storage, 1, 100*time.Millisecond)
	defer s.Close()

	out, err := s.Run(ctx, ref, "add", []uint64{40, 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, out)

	exports, err := s.Exports(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, exports, 2)

	_, err = s.Run(ctx, ref, "spin", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, IsNonRecoverable(err))

	_, err = s.Run(ctx, ref, "mul", nil, 0)
	assert.ErrorIs(t, err, ErrUnknownFunction)

	_, err = s.Run(ctx, ref, "add", []uint64{1}, 0)
	assert.True(t, IsNonRecoverable(err))

	_, err = s.Run(ctx, "nope", "add", nil, 0)
	assert.ErrorIs(t, err, ErrUnknownModule)
	assert.True(t, IsNonRecoverable(err))
}
