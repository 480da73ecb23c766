package bounty

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"datamarket/native/fees"
	"datamarket/registry"
)

var (
	creator   = common.HexToAddress("0xaa")
	submitter = common.HexToAddress("0xbb")
	stranger  = common.HexToAddress("0xcc")

	testNow = time.Unix(1700000000, 0).UTC()
)

// mockLedger emulates the registry contract's bookkeeping so transitions
// can be exercised end to end without a node.
type mockLedger struct {
	bounties    map[uint64]*registry.Bounty
	submissions map[uint64][]registry.Submission
	nextID      uint64
	writeErr    error
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		bounties:    make(map[uint64]*registry.Bounty),
		submissions: make(map[uint64][]registry.Submission),
	}
}

func (m *mockLedger) GetBounty(_ context.Context, id uint64) (*registry.Bounty, error) {
	b, ok := m.bounties[id]
	if !ok {
		return nil, fmt.Errorf("bounty %d not found: %w", id, registry.ErrRejected)
	}
	clone := *b
	return &clone, nil
}

func (m *mockLedger) BountyCount(context.Context) (uint64, error) {
	return m.nextID, nil
}

func (m *mockLedger) Submissions(_ context.Context, bountyID uint64) ([]registry.Submission, error) {
	return m.submissions[bountyID], nil
}

func (m *mockLedger) CreateBounty(_ context.Context, creator common.Address, title, description, metadataHash, category string, deadline time.Time, reward decimal.Decimal) (uint64, string, error) {
	if m.writeErr != nil {
		return 0, "", m.writeErr
	}
	id := m.nextID
	m.nextID++
	m.bounties[id] = &registry.Bounty{
		ID:           id,
		Creator:      creator,
		Title:        title,
		Description:  description,
		MetadataHash: metadataHash,
		Category:     category,
		Reward:       reward,
		Deadline:     deadline.UTC(),
		Status:       registry.BountyActive,
		CreatedAt:    testNow,
	}
	return id, fmt.Sprintf("0xcreate%d", id), nil
}

func (m *mockLedger) SubmitToBounty(_ context.Context, submitter common.Address, bountyID uint64, contentHash, description string) (string, error) {
	if m.writeErr != nil {
		return "", m.writeErr
	}
	m.submissions[bountyID] = append(m.submissions[bountyID], registry.Submission{
		BountyID:    bountyID,
		Submitter:   submitter,
		DataHash:    contentHash,
		Description: description,
		SubmittedAt: testNow,
	})
	return "0xsubmit", nil
}

func (m *mockLedger) ApproveBounty(_ context.Context, _ common.Address, bountyID uint64, submissionIndex int) (string, error) {
	if m.writeErr != nil {
		return "", m.writeErr
	}
	b := m.bounties[bountyID]
	b.Status = registry.BountyFulfilled
	b.Fulfiller = m.submissions[bountyID][submissionIndex].Submitter
	m.submissions[bountyID][submissionIndex].Approved = true
	return "0xapprove", nil
}

func (m *mockLedger) CancelBounty(_ context.Context, _ common.Address, bountyID uint64) (string, error) {
	if m.writeErr != nil {
		return "", m.writeErr
	}
	m.bounties[bountyID].Status = registry.BountyCancelled
	return "0xcancel", nil
}

func newTestEngine(t *testing.T, ledger *mockLedger) *Engine {
	t.Helper()
	engine, err := NewEngine(ledger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return testNow })
	return engine
}

func activeBounty(t *testing.T, engine *Engine, reward string) uint64 {
	t.Helper()
	b, _, err := engine.Create(context.Background(), creator, CreateInput{
		Title:    "Climate sensor readings",
		Category: "environment",
		Deadline: testNow.Add(72 * time.Hour),
		Reward:   decimal.RequireFromString(reward),
	})
	if err != nil {
		t.Fatalf("create bounty: %v", err)
	}
	return b.ID
}

func TestCreateGuards(t *testing.T) {
	engine := newTestEngine(t, newMockLedger())
	ctx := context.Background()

	_, _, err := engine.Create(ctx, creator, CreateInput{
		Title:    "no reward",
		Deadline: testNow.Add(time.Hour),
		Reward:   decimal.Zero,
	})
	if !errors.Is(err, fees.ErrInvalidAmount) {
		t.Fatalf("zero reward: expected ErrInvalidAmount, got %v", err)
	}

	_, _, err = engine.Create(ctx, creator, CreateInput{
		Title:    "past deadline",
		Deadline: testNow,
		Reward:   decimal.RequireFromString("1"),
	})
	if !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("past deadline: expected ErrRejected, got %v", err)
	}
}

func TestCreateReturnsActiveBounty(t *testing.T) {
	engine := newTestEngine(t, newMockLedger())
	b, txHash, err := engine.Create(context.Background(), creator, CreateInput{
		Title:    "Weather data",
		Deadline: testNow.Add(time.Hour),
		Reward:   decimal.RequireFromString("40"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != registry.BountyActive {
		t.Fatalf("status = %s, want active", b.Status)
	}
	if txHash == "" {
		t.Fatal("expected settlement tx hash")
	}
}

func TestSubmitDeadlineGuard(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()
	id := activeBounty(t, engine, "40")

	if _, err := engine.Submit(ctx, submitter, id, "QmData", "sample"); err != nil {
		t.Fatalf("submit before deadline: %v", err)
	}

	engine.SetNowFunc(func() time.Time { return testNow.Add(96 * time.Hour) })
	_, err := engine.Submit(ctx, submitter, id, "QmLate", "late")
	if !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("submit after deadline: expected ErrRejected, got %v", err)
	}
	if len(ledger.submissions[id]) != 1 {
		t.Fatalf("submissions = %d, want 1", len(ledger.submissions[id]))
	}
}

func TestApproveSettlesEscrow(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()
	id := activeBounty(t, engine, "40")

	if _, err := engine.Submit(ctx, submitter, id, "QmData", "sample"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	settlement, err := engine.Approve(ctx, creator, id, 0)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got, want := settlement.NetReward.String(), "39"; got != want {
		t.Fatalf("net reward = %s, want %s", got, want)
	}
	if got, want := settlement.PlatformFee.String(), "1"; got != want {
		t.Fatalf("platform fee = %s, want %s", got, want)
	}
	if settlement.Fulfiller != submitter {
		t.Fatalf("fulfiller = %s, want %s", settlement.Fulfiller, submitter)
	}
	if ledger.bounties[id].Status != registry.BountyFulfilled {
		t.Fatalf("ledger status = %s, want fulfilled", ledger.bounties[id].Status)
	}

	// Fulfilled is terminal: a second approval must be rejected.
	if _, err := engine.Approve(ctx, creator, id, 0); !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("second approve: expected ErrRejected, got %v", err)
	}
}

func TestApproveGuards(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()
	id := activeBounty(t, engine, "40")

	if _, err := engine.Approve(ctx, stranger, id, 0); !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("non-creator approve: expected ErrRejected, got %v", err)
	}
	if _, err := engine.Approve(ctx, creator, id, 0); !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("out-of-range submission: expected ErrRejected, got %v", err)
	}
}

func TestApproveAllowedAfterDeadlineWhileActive(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()
	id := activeBounty(t, engine, "10")

	if _, err := engine.Submit(ctx, submitter, id, "QmData", "sample"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The ledger does not auto-expire bounties; only submissions are
	// blocked past the deadline.
	engine.SetNowFunc(func() time.Time { return testNow.Add(30 * 24 * time.Hour) })
	if _, err := engine.Approve(ctx, creator, id, 0); err != nil {
		t.Fatalf("approve after deadline: %v", err)
	}
}

func TestCancelReturnsFullEscrow(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()
	id := activeBounty(t, engine, "40")

	if _, err := engine.Cancel(ctx, stranger, id); !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("non-creator cancel: expected ErrRejected, got %v", err)
	}

	refund, err := engine.Cancel(ctx, creator, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got, want := refund.Amount.String(), "40"; got != want {
		t.Fatalf("refund = %s, want %s (no fee on cancellation)", got, want)
	}
	if ledger.bounties[id].Status != registry.BountyCancelled {
		t.Fatalf("ledger status = %s, want cancelled", ledger.bounties[id].Status)
	}

	// Cancelled is terminal.
	if _, err := engine.Cancel(ctx, creator, id); !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("cancel from cancelled: expected ErrRejected, got %v", err)
	}
}

func TestCancelFromFulfilledRejected(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()
	id := activeBounty(t, engine, "40")

	if _, err := engine.Submit(ctx, submitter, id, "QmData", "sample"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := engine.Approve(ctx, creator, id, 0); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Cancel(ctx, creator, id); !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("cancel from fulfilled: expected ErrRejected, got %v", err)
	}
}

func TestLedgerWriteFailurePropagates(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()
	id := activeBounty(t, engine, "10")

	ledger.writeErr = &registry.WriteError{
		Op:      "market_submitToBounty",
		Outcome: registry.OutcomeUnknown,
		Err:     fmt.Errorf("timeout: %w", registry.ErrUnavailable),
	}
	_, err := engine.Submit(ctx, submitter, id, "QmData", "sample")
	if !errors.Is(err, registry.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var writeErr *registry.WriteError
	if !errors.As(err, &writeErr) || writeErr.Outcome != registry.OutcomeUnknown {
		t.Fatalf("expected unknown-outcome write error, got %v", err)
	}
}

func TestListFilterAndSort(t *testing.T) {
	ledger := newMockLedger()
	engine := newTestEngine(t, ledger)
	ctx := context.Background()

	first := activeBounty(t, engine, "10")
	second := activeBounty(t, engine, "50")
	third := activeBounty(t, engine, "30")
	ledger.bounties[first].CreatedAt = testNow.Add(-2 * time.Hour)
	ledger.bounties[second].CreatedAt = testNow.Add(-1 * time.Hour)
	ledger.bounties[third].CreatedAt = testNow
	ledger.bounties[third].Deadline = testNow.Add(time.Hour)

	if _, err := engine.Cancel(ctx, creator, first); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	active, err := engine.List(ctx, FilterActive, SortNewest)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 || active[0].ID != third {
		t.Fatalf("active newest-first = %+v, want [%d %d]", active, third, second)
	}

	byReward, err := engine.List(ctx, FilterAll, SortReward)
	if err != nil {
		t.Fatalf("list by reward: %v", err)
	}
	if byReward[0].ID != second {
		t.Fatalf("highest reward first = %d, want %d", byReward[0].ID, second)
	}

	byDeadline, err := engine.List(ctx, FilterAll, SortDeadline)
	if err != nil {
		t.Fatalf("list by deadline: %v", err)
	}
	if byDeadline[0].ID != third {
		t.Fatalf("soonest deadline first = %d, want %d", byDeadline[0].ID, third)
	}
}
