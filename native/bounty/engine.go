// Package bounty drives the bounty lifecycle against the registry ledger.
// The ledger owns canonical state and enforces the same guards on-chain;
// the engine checks them first so callers get a typed rejection instead of
// paying for a doomed write.
package bounty

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"datamarket/native/fees"
	"datamarket/observability/metrics"
	"datamarket/registry"
)

var errNilLedger = errors.New("bounty engine: ledger not configured")

// Ledger is the slice of the registry client the engine persists through.
type Ledger interface {
	GetBounty(ctx context.Context, id uint64) (*registry.Bounty, error)
	BountyCount(ctx context.Context) (uint64, error)
	Submissions(ctx context.Context, bountyID uint64) ([]registry.Submission, error)
	CreateBounty(ctx context.Context, creator common.Address, title, description, metadataHash, category string, deadline time.Time, rewardEscrow decimal.Decimal) (uint64, string, error)
	SubmitToBounty(ctx context.Context, submitter common.Address, bountyID uint64, contentHash, description string) (string, error)
	ApproveBounty(ctx context.Context, caller common.Address, bountyID uint64, submissionIndex int) (string, error)
	CancelBounty(ctx context.Context, caller common.Address, bountyID uint64) (string, error)
}

// Engine manages bounty transitions. Status is monotonic: Active may move
// to Fulfilled or Cancelled, both terminal. A bounty past its deadline is
// never auto-transitioned; expiry only blocks new submissions, mirroring a
// ledger that does not expire state on its own.
type Engine struct {
	ledger  Ledger
	nowFn   func() time.Time
	metrics *metrics.MarketMetrics
}

// NewEngine creates a bounty engine bound to the supplied ledger.
func NewEngine(ledger Ledger) (*Engine, error) {
	if ledger == nil {
		return nil, errNilLedger
	}
	return &Engine{
		ledger:  ledger,
		nowFn:   time.Now,
		metrics: metrics.Market(),
	}, nil
}

// SetNowFunc overrides the time source used for deadline guards. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

// Create posts a new bounty with the reward escrowed atomically. The reward
// must be positive and the deadline strictly in the future. The returned
// string is the settlement transaction hash.
func (e *Engine) Create(ctx context.Context, creator common.Address, in CreateInput) (*registry.Bounty, string, error) {
	if in.Reward.Sign() <= 0 {
		return nil, "", fmt.Errorf("bounty: reward must be positive: %w", fees.ErrInvalidAmount)
	}
	now := e.now()
	if !in.Deadline.After(now) {
		return nil, "", fmt.Errorf("bounty: deadline %s not in the future: %w", in.Deadline.UTC(), registry.ErrRejected)
	}
	id, txHash, err := e.ledger.CreateBounty(ctx, creator, in.Title, in.Description, in.MetadataHash, in.Category, in.Deadline, in.Reward)
	if err != nil {
		e.observeWriteFailure("create", err)
		return nil, "", err
	}
	e.metrics.ObserveBountyTransition("created")
	return &registry.Bounty{
		ID:           id,
		Creator:      creator,
		Title:        in.Title,
		Description:  in.Description,
		MetadataHash: in.MetadataHash,
		Category:     in.Category,
		Reward:       in.Reward,
		Deadline:     in.Deadline.UTC(),
		Status:       registry.BountyActive,
		CreatedAt:    now.UTC(),
	}, txHash, nil
}

// Submit files a submission against an active bounty. Submissions are
// refused once the deadline has passed; the bounty itself stays Active.
func (e *Engine) Submit(ctx context.Context, submitter common.Address, bountyID uint64, contentHash, description string) (string, error) {
	b, err := e.ledger.GetBounty(ctx, bountyID)
	if err != nil {
		return "", err
	}
	if b.Status != registry.BountyActive {
		return "", fmt.Errorf("bounty: cannot submit to %s bounty %d: %w", b.Status, bountyID, registry.ErrRejected)
	}
	if !e.now().Before(b.Deadline) {
		return "", fmt.Errorf("bounty: deadline passed for bounty %d: %w", bountyID, registry.ErrRejected)
	}
	txHash, err := e.ledger.SubmitToBounty(ctx, submitter, bountyID, contentHash, description)
	if err != nil {
		e.observeWriteFailure("submit", err)
		return "", err
	}
	e.metrics.ObserveBountyTransition("submission")
	return txHash, nil
}

// Approve fulfils the bounty with the chosen submission. Only the creator
// may approve, only while the bounty is Active, and exactly once: the
// transition to Fulfilled is terminal. The ledger releases the reward minus
// the platform fee to the submitter; the fee here must match what was
// quoted at creation time.
func (e *Engine) Approve(ctx context.Context, caller common.Address, bountyID uint64, submissionIndex int) (*Settlement, error) {
	b, err := e.ledger.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if b.Status != registry.BountyActive {
		return nil, fmt.Errorf("bounty: cannot approve %s bounty %d: %w", b.Status, bountyID, registry.ErrRejected)
	}
	if caller != b.Creator {
		return nil, fmt.Errorf("bounty: only the creator may approve bounty %d: %w", bountyID, registry.ErrRejected)
	}
	subs, err := e.ledger.Submissions(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if submissionIndex < 0 || submissionIndex >= len(subs) {
		return nil, fmt.Errorf("bounty: submission index %d out of range for bounty %d: %w", submissionIndex, bountyID, registry.ErrRejected)
	}
	quote, err := fees.QuoteBountyFee(b.Reward)
	if err != nil {
		return nil, err
	}
	txHash, err := e.ledger.ApproveBounty(ctx, caller, bountyID, submissionIndex)
	if err != nil {
		e.observeWriteFailure("approve", err)
		return nil, err
	}
	e.metrics.ObserveBountyTransition("fulfilled")
	return &Settlement{
		BountyID:    bountyID,
		Fulfiller:   subs[submissionIndex].Submitter,
		Reward:      b.Reward,
		PlatformFee: quote.PlatformFee,
		NetReward:   quote.NetReward,
		TxHash:      txHash,
	}, nil
}

// Cancel moves an Active bounty to Cancelled and returns the full escrowed
// reward to the creator. Only the creator may cancel; cancellation carries
// no fee.
func (e *Engine) Cancel(ctx context.Context, caller common.Address, bountyID uint64) (*Refund, error) {
	b, err := e.ledger.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if b.Status != registry.BountyActive {
		return nil, fmt.Errorf("bounty: cannot cancel %s bounty %d: %w", b.Status, bountyID, registry.ErrRejected)
	}
	if caller != b.Creator {
		return nil, fmt.Errorf("bounty: only the creator may cancel bounty %d: %w", bountyID, registry.ErrRejected)
	}
	txHash, err := e.ledger.CancelBounty(ctx, caller, bountyID)
	if err != nil {
		e.observeWriteFailure("cancel", err)
		return nil, err
	}
	e.metrics.ObserveBountyTransition("cancelled")
	return &Refund{
		BountyID: bountyID,
		Creator:  b.Creator,
		Amount:   b.Reward,
		TxHash:   txHash,
	}, nil
}

// List returns all bounties matching the filter in the requested order.
func (e *Engine) List(ctx context.Context, filter StatusFilter, order SortOrder) ([]registry.Bounty, error) {
	count, err := e.ledger.BountyCount(ctx)
	if err != nil {
		return nil, err
	}
	bounties := make([]registry.Bounty, 0, count)
	for id := uint64(0); id < count; id++ {
		b, err := e.ledger.GetBounty(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("bounty: list bounty %d: %w", id, err)
		}
		if !matchesFilter(b.Status, filter) {
			continue
		}
		bounties = append(bounties, *b)
	}
	sortBounties(bounties, order)
	return bounties, nil
}

func matchesFilter(status registry.BountyStatus, filter StatusFilter) bool {
	switch filter {
	case FilterActive:
		return status == registry.BountyActive
	case FilterFulfilled:
		return status == registry.BountyFulfilled
	case FilterCancelled:
		return status == registry.BountyCancelled
	default:
		return true
	}
}

func sortBounties(bounties []registry.Bounty, order SortOrder) {
	switch order {
	case SortReward:
		sort.SliceStable(bounties, func(i, j int) bool {
			return bounties[i].Reward.GreaterThan(bounties[j].Reward)
		})
	case SortDeadline:
		sort.SliceStable(bounties, func(i, j int) bool {
			return bounties[i].Deadline.Before(bounties[j].Deadline)
		})
	default:
		sort.SliceStable(bounties, func(i, j int) bool {
			return bounties[i].CreatedAt.After(bounties[j].CreatedAt)
		})
	}
}

func (e *Engine) observeWriteFailure(op string, err error) {
	outcome := registry.OutcomeUnknown
	var writeErr *registry.WriteError
	if errors.As(err, &writeErr) {
		outcome = writeErr.Outcome
	}
	e.metrics.ObserveLedgerWriteFailure(op, outcome.String())
}
