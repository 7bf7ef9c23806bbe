package organizer

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/internal/chain/pool"
	"github.com/nodecore/blockorganizer/internal/chain/store/memstore"
	"github.com/nodecore/blockorganizer/internal/chain/subscriber"
	"github.com/nodecore/blockorganizer/internal/chain/validator"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const weakBits = 0x207fffff

// fakeValidator lets organizer tests drive every branch of Organize
// without needing real proof-of-work or script execution.
type fakeValidator struct {
	acceptErr  error
	connectErr error
	stopped    bool
}

func (f *fakeValidator) Check(blk *model.Block) error { return nil }

func (f *fakeValidator) Accept(ctx context.Context, previous *model.ChainState, b *branch.Branch) (*validator.AcceptResult, error) {
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	_, forkHeight := b.ForkPoint()
	return &validator.AcceptResult{ChainState: &model.ChainState{Height: forkHeight + int32(b.Size())}}, nil
}

func (f *fakeValidator) Connect(ctx context.Context, b *branch.Branch, state *model.ChainState) error {
	return f.connectErr
}

func (f *fakeValidator) Stopped() bool { return f.stopped }

type syncDispatcher struct{}

func (syncDispatcher) General(ctx context.Context, n int, task func(context.Context, int) error) error {
	for i := 0; i < n; i++ {
		if err := task(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func newBlock(prev chainhash.Hash, nonce uint32) *model.Block {
	in := &model.TxIn{PreviousOutpoint: model.Outpoint{Index: 0xffffffff}}
	out := &model.TxOut{Value: 5_000_000_000, LockingScript: []byte{0x51}}
	tx := model.NewTransaction(1, []*model.TxIn{in}, []*model.TxOut{out}, 0)
	return &model.Block{
		Header: model.Header{
			Version:   1,
			PrevBlock: prev,
			Bits:      weakBits,
			Timestamp: time.Unix(1231006505, 0).Add(time.Duration(nonce) * time.Minute),
			Nonce:     nonce,
		},
		Transactions: []*model.Transaction{tx},
	}
}

// newFixture returns a store pre-seeded with a genesis block at height 0, a
// fresh pool, and an Organizer wired over both with the given validator.
func newFixture(t *testing.T, v Validator) (*Organizer, *memstore.Store, *pool.Pool, *model.Block) {
	t.Helper()
	s := memstore.New()
	genesis := newBlock(chainhash.Hash{}, 0)
	require.NoError(t, s.Insert(context.Background(), genesis, 0))

	p := pool.New(100)
	sub := subscriber.New(syncDispatcher{})
	org := New(p, s, v, sub, zap.NewNop())
	return org, s, p, genesis
}

type relayCall struct {
	code       chainerr.Code
	forkHeight int32
	incoming   []*model.Block
	outgoing   []*model.Block
}

func recordRelays(sub *subscriber.Subscriber) *[]relayCall {
	calls := &[]relayCall{}
	sub.Subscribe(func(code chainerr.Code, forkHeight int32, incoming, outgoing []*model.Block) {
		*calls = append(*calls, relayCall{code, forkHeight, incoming, outgoing})
	})
	return calls
}

func TestOrganizeLinearExtension(t *testing.T) {
	org, s, p, genesis := newFixture(t, &fakeValidator{})

	blk1 := newBlock(genesis.Hash(), 1)
	code := org.Organize(context.Background(), blk1)
	require.Equal(t, chainerr.Success, code)

	height, err := s.FetchLastHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), height)
	tip, err := s.FetchBlock(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, blk1.Hash(), tip.Hash())
	require.False(t, p.Contains(blk1.Hash()))
}

func TestOrganizeOrphanThenFill(t *testing.T) {
	org, s, p, genesis := newFixture(t, &fakeValidator{})
	calls := recordRelays(org.subscriber)

	blk1 := newBlock(genesis.Hash(), 1)
	blk2 := newBlock(blk1.Hash(), 2)

	// blk2 arrives first: its parent blk1 is unknown to chain and pool.
	code := org.Organize(context.Background(), blk2)
	require.Equal(t, chainerr.OrphanBlock, code)
	require.True(t, p.Contains(blk2.Hash()))

	// blk1 arrives, resolving the orphan: the branch extends forward
	// through the already-pooled blk2 in the same call.
	code = org.Organize(context.Background(), blk1)
	require.Equal(t, chainerr.Success, code)

	require.False(t, p.Contains(blk1.Hash()))
	require.False(t, p.Contains(blk2.Hash()))

	height, err := s.FetchLastHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), height)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	require.Equal(t, chainerr.Success, got.code)
	require.Len(t, got.incoming, 2)
	require.Equal(t, blk1.Hash(), got.incoming[0].Hash())
	require.Equal(t, blk2.Hash(), got.incoming[1].Hash())
}

func TestOrganizeWeakerForkPoolsWithoutReorg(t *testing.T) {
	org, s, p, genesis := newFixture(t, &fakeValidator{})

	b1 := newBlock(genesis.Hash(), 1)
	require.Equal(t, chainerr.Success, org.Organize(context.Background(), b1))
	b2 := newBlock(b1.Hash(), 2)
	require.Equal(t, chainerr.Success, org.Organize(context.Background(), b2))

	// a same-length, equal-work competing branch off genesis: the
	// existing chain wins ties, so both competitors stay pooled.
	b1alt := newBlock(genesis.Hash(), 101)
	b2alt := newBlock(b1alt.Hash(), 102)

	require.Equal(t, chainerr.InsufficientWork, org.Organize(context.Background(), b1alt))
	require.Equal(t, chainerr.InsufficientWork, org.Organize(context.Background(), b2alt))

	require.True(t, p.Contains(b1alt.Hash()))
	require.True(t, p.Contains(b2alt.Hash()))

	height, err := s.FetchLastHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), height)
	tip, err := s.FetchBlock(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, b2.Hash(), tip.Hash())
}

func TestOrganizeHeavierReorgReplacesTip(t *testing.T) {
	org, s, p, genesis := newFixture(t, &fakeValidator{})

	b1 := newBlock(genesis.Hash(), 1)
	require.Equal(t, chainerr.Success, org.Organize(context.Background(), b1))
	b2 := newBlock(b1.Hash(), 2)
	require.Equal(t, chainerr.Success, org.Organize(context.Background(), b2))

	b1alt := newBlock(genesis.Hash(), 101)
	b2alt := newBlock(b1alt.Hash(), 102)
	require.Equal(t, chainerr.InsufficientWork, org.Organize(context.Background(), b1alt))
	require.Equal(t, chainerr.InsufficientWork, org.Organize(context.Background(), b2alt))

	calls := recordRelays(org.subscriber)

	// a third block on the alternate branch outweighs the two-block
	// original chain purely by length: heavier reorg.
	b3alt := newBlock(b2alt.Hash(), 103)
	code := org.Organize(context.Background(), b3alt)
	require.Equal(t, chainerr.Success, code)

	height, err := s.FetchLastHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(3), height)
	tip, err := s.FetchBlock(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, b3alt.Hash(), tip.Hash())

	require.False(t, p.Contains(b1alt.Hash()))
	require.False(t, p.Contains(b2alt.Hash()))
	require.False(t, p.Contains(b3alt.Hash()))
	require.True(t, p.Contains(b1.Hash()), "old tip blocks are re-pooled")
	require.True(t, p.Contains(b2.Hash()), "old tip blocks are re-pooled")

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	require.Equal(t, int32(0), got.forkHeight)
	require.Len(t, got.incoming, 3)
	require.Equal(t, b1alt.Hash(), got.incoming[0].Hash())
	require.Equal(t, b2alt.Hash(), got.incoming[1].Hash())
	require.Equal(t, b3alt.Hash(), got.incoming[2].Hash())
	// outgoing is in pop order: highest height first.
	require.Len(t, got.outgoing, 2)
	require.Equal(t, b2.Hash(), got.outgoing[0].Hash())
	require.Equal(t, b1.Hash(), got.outgoing[1].Hash())
}

func TestOrganizeInvalidScriptLeavesStoreAndPoolUnchanged(t *testing.T) {
	connectErr := chainerr.New(chainerr.InvalidScript, nil)
	org, s, p, genesis := newFixture(t, &fakeValidator{connectErr: connectErr})

	blk := newBlock(genesis.Hash(), 1)
	code := org.Organize(context.Background(), blk)
	require.Equal(t, chainerr.InvalidScript, code)

	height, err := s.FetchLastHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(0), height)
	require.False(t, p.Contains(blk.Hash()))
	require.Equal(t, 0, p.Size())
}

func TestOrganizeShortCircuitsAfterStop(t *testing.T) {
	org, s, _, genesis := newFixture(t, &fakeValidator{})
	org.Stop()

	blk := newBlock(genesis.Hash(), 1)
	code := org.Organize(context.Background(), blk)
	require.Equal(t, chainerr.ServiceStopped, code)

	height, err := s.FetchLastHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(0), height, "store is untouched when Organize short-circuits")
}

func TestOrganizeTransactionSharesWriteMutexAndRespectsStop(t *testing.T) {
	org, _, _, _ := newFixture(t, &fakeValidator{})

	in := &model.TxIn{PreviousOutpoint: model.Outpoint{Hash: chainhash.Hash{0x01}, Index: 0}}
	out := &model.TxOut{Value: 1, LockingScript: []byte{0x51}}
	tx := model.NewTransaction(1, []*model.TxIn{in}, []*model.TxOut{out}, 0)

	require.Equal(t, chainerr.Success, org.OrganizeTransaction(context.Background(), tx, 0))

	org.Stop()
	require.Equal(t, chainerr.ServiceStopped, org.OrganizeTransaction(context.Background(), tx, 0))
}

func TestCloseNotifiesSubscribersOfShutdown(t *testing.T) {
	org, _, _, _ := newFixture(t, &fakeValidator{})
	var got chainerr.Code
	org.subscriber.Subscribe(func(code chainerr.Code, _ int32, _, _ []*model.Block) {
		got = code
	})

	org.Close()
	require.Equal(t, chainerr.ServiceStopped, got)
	require.Equal(t, chainerr.ServiceStopped, org.Organize(context.Background(), newBlock(chainhash.Hash{}, 9)))
}
