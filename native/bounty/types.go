package bounty

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CreateInput carries everything needed to post a bounty. The reward is
// escrowed by the ledger atomically with creation.
type CreateInput struct {
	Title        string
	Description  string
	MetadataHash string
	Category     string
	Deadline     time.Time
	Reward       decimal.Decimal
}

// Settlement reports what an approval released from escrow.
type Settlement struct {
	BountyID    uint64
	Fulfiller   common.Address
	Reward      decimal.Decimal
	PlatformFee decimal.Decimal
	NetReward   decimal.Decimal
	TxHash      string
}

// Refund reports what a cancellation returned to the creator. No fee
// applies; fees are charged on fulfillment only.
type Refund struct {
	BountyID uint64
	Creator  common.Address
	Amount   decimal.Decimal
	TxHash   string
}

// StatusFilter narrows bounty listings.
type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterActive    StatusFilter = "active"
	FilterFulfilled StatusFilter = "fulfilled"
	FilterCancelled StatusFilter = "cancelled"
)

// ParseStatusFilter canonicalises a listing filter; empty means all.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterActive:
		return FilterActive, nil
	case FilterFulfilled:
		return FilterFulfilled, nil
	case FilterCancelled:
		return FilterCancelled, nil
	default:
		return "", fmt.Errorf("bounty: unknown status filter %q", raw)
	}
}

// SortOrder selects the listing order.
type SortOrder string

const (
	// SortNewest orders by creation time, most recent first.
	SortNewest SortOrder = "newest"
	// SortReward orders by escrowed reward, largest first.
	SortReward SortOrder = "reward"
	// SortDeadline orders by deadline, soonest first.
	SortDeadline SortOrder = "deadline"
)

// ParseSortOrder canonicalises a listing sort; empty means newest.
func ParseSortOrder(raw string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SortNewest:
		return SortNewest, nil
	case SortReward:
		return SortReward, nil
	case SortDeadline:
		return SortDeadline, nil
	default:
		return "", fmt.Errorf("bounty: unknown sort order %q", raw)
	}
}
