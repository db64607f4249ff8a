package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/attest"
	"github.com/Stygian-Inc/intent-veil-go/pkg/backend"
	"github.com/Stygian-Inc/intent-veil-go/pkg/channel"
	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
	"github.com/Stygian-Inc/intent-veil-go/pkg/keys/keystest"
	"github.com/Stygian-Inc/intent-veil-go/pkg/nonce"
	"github.com/Stygian-Inc/intent-veil-go/pkg/proof"
	"github.com/Stygian-Inc/intent-veil-go/pkg/prover"
	"github.com/Stygian-Inc/intent-veil-go/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const user = "did:example:user1"

type acceptAll struct{}

func (acceptAll) Check(*proof.IntentProof) error { return nil }

type rejectAll struct{}

func (rejectAll) Check(*proof.IntentProof) error { return verifier.ErrInvalidProof }

// countingStorage delays writes by the first payload byte in milliseconds.
type countingStorage struct {
	*backend.MemoryStorage
	writes atomic.Int32
	err    error
}

func (s *countingStorage) Write(ctx context.Context, data []byte, md map[string]string) (string, error) {
	s.writes.Add(1)
	if s.err != nil {
		return "", s.err
	}
	if len(data) > 0 {
		time.Sleep(time.Duration(data[0]) * time.Millisecond)
	}
	return s.MemoryStorage.Write(ctx, data, md)
}

type echoScheduler struct{}

func (echoScheduler) Run(_ context.Context, _, _ string, params []uint64, _ time.Duration) ([]uint64, error) {
	return params, nil
}

type failingStore struct{ attest.Store }

func (failingStore) Append(context.Context, attest.Attestation) error {
	return errors.New("disk full")
}

type fixture struct {
	engine  *Engine
	storage *countingStorage
	ledger  *backend.MemoryLedger
	bcast   *backend.MemoryBroadcaster
	nonces  *nonce.MemoryLedger
	store   *attest.MemoryStore
}

func newFixture(checker ProofChecker, opts ...Option) *fixture {
	f := &fixture{
		storage: &countingStorage{MemoryStorage: backend.NewMemoryStorage()},
		ledger:  backend.NewMemoryLedger(map[string]uint64{user: 1000}),
		bcast:   backend.NewMemoryBroadcaster(3),
		nonces:  nonce.NewMemoryLedger(),
		store:   attest.NewMemoryStore(),
	}
	set := backend.Set{Storage: f.storage, Ledger: f.ledger, Broadcaster: f.bcast, Scheduler: echoScheduler{}}
	f.engine = New(checker, f.nonces, set, f.store, opts...)
	return f
}

func fakeProof(n uint64) *proof.IntentProof {
	return &proof.IntentProof{
		Commitment: crypto.Commit([]byte(fmt.Sprintf("intent-%d", n)), []byte(user), n),
		Nonce:      n,
		Proof:      make([]byte, proof.PointsSize),
	}
}

func transfer(amount uint64) command.SubmitTransaction {
	return command.SubmitTransaction{Tx: command.Transaction{Kind: command.TxTransfer, To: "alice", Amount: amount}}
}

// sampleCommand returns a command of the given kind that succeeds against
// a fresh fixture.
func sampleCommand(k command.Kind) command.Command {
	switch k {
	case command.KindStoreData:
		return command.StoreData{Data: []byte("payload")}
	case command.KindRetrieveData:
		return command.RetrieveData{Key: crypto.Sha256Hex([]byte("payload"))}
	case command.KindSubmitTransaction:
		return transfer(1)
	case command.KindQueryBalance:
		return command.QueryBalance{}
	case command.KindQueryState:
		return command.QueryState{Key: "height"}
	case command.KindBroadcastMessage:
		return command.BroadcastMessage{Topic: "news", Payload: []byte("hi")}
	case command.KindScheduleExecution:
		return command.ScheduleExecution{ModuleRef: "m", Function: "f", Params: []uint64{1, 2}}
	case command.KindGetStatus:
		return command.GetStatus{}
	case command.KindShutdown:
		return command.Shutdown{Reason: "test"}
	}
	return nil
}

func TestHandleCoversEveryKind(t *testing.T) {
	f := newFixture(acceptAll{})
	ctx := context.Background()
	n := uint64(0)
	for _, k := range command.AllKinds() {
		cmd := sampleCommand(k)
		require.NotNil(t, cmd, "no sample for %s", k)
		require.Equal(t, k, cmd.Kind())

		n++
		req := command.Request{ID: string(k), Identity: user, Command: cmd}
		if k.RequiresProof() {
			req.Proof = fakeProof(n)
		}
		res := f.engine.Handle(ctx, req)
		s, ok := res.(command.Success)
		require.True(t, ok, "%s: %#v", k, res)
		assert.Equal(t, string(k), s.ID)
		assert.NotEmpty(t, s.Message)
	}

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, count, "one attestation per mutating command")
}

func TestMissingProofNeverReachesBackend(t *testing.T) {
	f := newFixture(acceptAll{})
	ctx := context.Background()
	for _, k := range command.AllKinds() {
		if !k.RequiresProof() {
			continue
		}
		res := f.engine.Handle(ctx, command.Request{ID: "x", Identity: user, Command: sampleCommand(k)})
		fail, ok := res.(command.Failure)
		require.True(t, ok, "%s", k)
		assert.Equal(t, command.ReasonMissingProof, fail.Error)
		assert.False(t, fail.Recoverable)
	}
	assert.Zero(t, f.storage.writes.Load())
	assert.Zero(t, f.ledger.MempoolSize())
	assert.Empty(t, f.bcast.Messages())
	assert.Zero(t, f.nonces.Len())
	count, _ := f.store.Count(ctx)
	assert.Zero(t, count)
}

func TestInvalidProofDoesNotConsumeNonce(t *testing.T) {
	f := newFixture(rejectAll{})
	res := f.engine.Handle(context.Background(), command.Request{ID: "x", Identity: user, Proof: fakeProof(1), Command: transfer(5)})

	fail, ok := res.(command.Failure)
	require.True(t, ok)
	assert.Equal(t, command.ReasonInvalidProof, fail.Error)
	assert.False(t, fail.Recoverable)
	assert.Zero(t, f.nonces.Len())
	assert.Zero(t, f.ledger.MempoolSize())
}

func TestReplayIsRejected(t *testing.T) {
	f := newFixture(acceptAll{})
	ctx := context.Background()
	p := fakeProof(1)

	first := f.engine.Handle(ctx, command.Request{ID: "a", Identity: user, Proof: p, Command: transfer(5)})
	require.IsType(t, command.Success{}, first)

	second := f.engine.Handle(ctx, command.Request{ID: "b", Identity: user, Proof: p, Command: transfer(5)})
	fail, ok := second.(command.Failure)
	require.True(t, ok)
	assert.Equal(t, command.ReasonReplay, fail.Error)
	assert.False(t, fail.Recoverable)
	assert.Equal(t, 1, f.ledger.MempoolSize())

	bal, err := f.ledger.QueryBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(995), bal)
}

func TestReusedCommitmentWithFreshNonceIsRejected(t *testing.T) {
	f := newFixture(acceptAll{})
	ctx := context.Background()
	p := fakeProof(1)
	require.IsType(t, command.Success{}, f.engine.Handle(ctx, command.Request{ID: "a", Identity: user, Proof: p, Command: transfer(5)}))

	relabelled := *p
	relabelled.Nonce = 2
	res := f.engine.Handle(ctx, command.Request{ID: "b", Identity: user, Proof: &relabelled, Command: transfer(5)})
	assert.Equal(t, command.ReasonReplay, res.(command.Failure).Error)
	assert.Equal(t, 1, f.nonces.Len(), "a rejected relabel must not burn the fresh nonce")

	res = f.engine.Handle(ctx, command.Request{ID: "c", Identity: user, Proof: fakeProof(2), Command: transfer(5)})
	require.IsType(t, command.Success{}, res)
	assert.Equal(t, 2, f.nonces.Len())
}

func TestSpentNonceDoesNotBurnFreshCommitment(t *testing.T) {
	f := newFixture(acceptAll{})
	ctx := context.Background()
	require.IsType(t, command.Success{}, f.engine.Handle(ctx, command.Request{ID: "a", Identity: user, Proof: fakeProof(1), Command: transfer(5)}))

	next := fakeProof(2)
	stale := *next
	stale.Nonce = 1
	res := f.engine.Handle(ctx, command.Request{ID: "b", Identity: user, Proof: &stale, Command: transfer(5)})
	assert.Equal(t, command.ReasonReplay, res.(command.Failure).Error)
	assert.Equal(t, 1, f.engine.commitments.(*nonce.MemoryLedger).Len())

	res = f.engine.Handle(ctx, command.Request{ID: "c", Identity: user, Proof: next, Command: transfer(5)})
	require.IsType(t, command.Success{}, res)
}

func TestReadOnlyCommandsSkipAuthorization(t *testing.T) {
	f := newFixture(rejectAll{})
	ctx := context.Background()

	res := f.engine.Handle(ctx, command.Request{ID: "q", Identity: user, Command: command.QueryBalance{}})
	s, ok := res.(command.Success)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), s.Data["balance"])

	count, _ := f.store.Count(ctx)
	assert.Zero(t, count)
	assert.Zero(t, f.nonces.Len())
}

func TestAttestationFailureKeepsEffect(t *testing.T) {
	f := newFixture(acceptAll{})
	f.engine.attestations = failingStore{}

	res := f.engine.Handle(context.Background(), command.Request{ID: "a", Identity: user, Proof: fakeProof(1), Command: transfer(5)})
	s, ok := res.(command.Success)
	require.True(t, ok)
	assert.True(t, s.AttestationPending)
	assert.NotEmpty(t, s.Warning)
	assert.Equal(t, 1, f.ledger.MempoolSize())
}

func TestBackendErrorRecoverability(t *testing.T) {
	ctx := context.Background()

	f := newFixture(acceptAll{})
	res := f.engine.Handle(ctx, command.Request{ID: "a", Identity: user, Proof: fakeProof(1), Command: transfer(5000)})
	fail := res.(command.Failure)
	assert.False(t, fail.Recoverable)
	assert.Contains(t, fail.Error, backend.ErrInsufficientFunds.Error())

	f = newFixture(acceptAll{})
	f.storage.err = errors.New("connection reset")
	res = f.engine.Handle(ctx, command.Request{ID: "b", Identity: user, Proof: fakeProof(1), Command: command.StoreData{Data: []byte("x")}})
	fail = res.(command.Failure)
	assert.True(t, fail.Recoverable)
	// the nonce stays spent even though nothing was stored
	assert.Equal(t, 1, f.nonces.Len())
}

func TestSenderMustMatchIdentity(t *testing.T) {
	f := newFixture(acceptAll{})
	cmd := transfer(5)
	cmd.Tx.From = "did:example:mallory"
	res := f.engine.Handle(context.Background(), command.Request{ID: "a", Identity: user, Proof: fakeProof(1), Command: cmd})
	fail := res.(command.Failure)
	assert.False(t, fail.Recoverable)
	assert.Zero(t, f.ledger.MempoolSize())
}

func TestMissingCapability(t *testing.T) {
	e := New(acceptAll{}, nonce.NewMemoryLedger(), backend.Set{}, attest.NewMemoryStore())
	res := e.Handle(context.Background(), command.Request{ID: "a", Identity: user, Command: command.QueryState{Key: "height"}})
	fail := res.(command.Failure)
	assert.False(t, fail.Recoverable)
	assert.Contains(t, fail.Error, "ledger")
}

func TestRunCorrelatesResults(t *testing.T) {
	f := newFixture(acceptAll{})
	ch := channel.New(16)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, ch) }()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// later callers get shorter backend latencies
			data := []byte{byte(9 - i), byte(i)}
			res := ch.Call(context.Background(), command.Request{
				Identity: user,
				Proof:    fakeProof(uint64(i)),
				Command:  command.StoreData{Data: data},
			})
			s, ok := res.(command.Success)
			if assert.True(t, ok, "%#v", res) {
				assert.Equal(t, crypto.Sha256Hex(data), s.Data["key"])
			}
		}()
	}
	wg.Wait()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, ch.Close())

	count, _ := f.store.Count(context.Background())
	assert.Equal(t, 8, count)
}

func TestRunStopsAfterShutdown(t *testing.T) {
	f := newFixture(acceptAll{})
	ch := channel.New(4)
	defer ch.Close()

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background(), ch) }()

	res := ch.Call(context.Background(), command.Request{Identity: user, Proof: fakeProof(1), Command: command.Shutdown{Reason: "test"}})
	require.IsType(t, command.Success{}, res)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	f := newFixture(acceptAll{})
	ch := channel.New(4)

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background(), ch) }()
	require.NoError(t, ch.Close())
	assert.NoError(t, <-done)
}

func TestServeProducesBlocks(t *testing.T) {
	f := newFixture(acceptAll{})
	ch := channel.New(4)
	defer ch.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.engine.Serve(ctx, ch, 10*time.Millisecond) }()

	res := ch.Call(ctx, command.Request{Identity: user, Proof: fakeProof(1), Command: transfer(5)})
	require.IsType(t, command.Success{}, res)
	require.Eventually(t, func() bool {
		return f.ledger.Height() >= 1 && f.ledger.MempoolSize() == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStatus(t *testing.T) {
	f := newFixture(acceptAll{})
	ch := channel.New(4)
	defer ch.Close()
	f.engine = New(acceptAll{}, f.nonces, backend.Set{Ledger: f.ledger, Broadcaster: f.bcast}, f.store, WithQueue(ch))

	ctx := context.Background()
	require.IsType(t, command.Success{}, f.engine.Handle(ctx, command.Request{ID: "a", Identity: user, Proof: fakeProof(1), Command: transfer(5)}))

	s := f.engine.Status(ctx)
	assert.Equal(t, Status{QueueDepth: 0, Peers: 3, ChainHeight: 0, MempoolSize: 1}, s)

	res := f.engine.Handle(ctx, command.Request{ID: "s", Command: command.GetStatus{}})
	data := res.(command.Success).Data
	assert.Equal(t, 3, data["peers"])
	assert.Equal(t, 1, data["mempool_size"])
}

func TestRealProofAuthorizesOnce(t *testing.T) {
	m := keystest.Material(t)
	p := prover.NewProver(m)
	v := verifier.FromMaterial(m)
	f := newFixture(v)
	ctx := context.Background()

	intent := []byte(`{"action":"transfer","parameters":{"amount":50,"to":"alice"}}`)
	pr, err := p.Prove(ctx, intent, []byte(user), 1)
	require.NoError(t, err)

	res := f.engine.Handle(ctx, command.Request{ID: "a", Identity: user, Proof: pr, Command: transfer(50)})
	s, ok := res.(command.Success)
	require.True(t, ok, "%#v", res)
	assert.True(t, strings.HasPrefix(s.Message, "transfer sent"))

	atts, err := f.store.ByCommitment(ctx, pr.Commitment)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "a", atts[0].CommandID)

	res = f.engine.Handle(ctx, command.Request{ID: "b", Identity: user, Proof: pr, Command: transfer(50)})
	assert.Equal(t, command.ReasonReplay, res.(command.Failure).Error)

	tampered := *pr
	tampered.Proof = append([]byte(nil), pr.Proof...)
	tampered.Proof[5] ^= 0x01
	tampered.Nonce = 2
	res = f.engine.Handle(ctx, command.Request{ID: "c", Identity: user, Proof: &tampered, Command: transfer(50)})
	assert.Equal(t, command.ReasonInvalidProof, res.(command.Failure).Error)
}
