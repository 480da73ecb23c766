package registry

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// payloadVersion is the wire version this client understands. Payloads with
// any other version are rejected outright rather than coerced.
const payloadVersion = 1

// MaxEventWindow is the widest historical range the ledger accepts for a
// purchase-event query. Anything older than this cannot be re-derived from
// the ledger and must come from the local cache.
const MaxEventWindow uint64 = 100

// Dataset is the ledger's canonical dataset record. The registry assigns ids
// monotonically; records are deactivated, never deleted.
type Dataset struct {
	ID           uint64
	Owner        common.Address
	DataHash     string
	MetadataHash string
	Price        decimal.Decimal
	Category     string
	CreatedAt    time.Time
	Active       bool
}

// BountyStatus mirrors the registry contract's status enum.
type BountyStatus uint8

const (
	BountyActive BountyStatus = iota
	BountyFulfilled
	BountyCancelled
)

func (s BountyStatus) String() string {
	switch s {
	case BountyActive:
		return "active"
	case BountyFulfilled:
		return "fulfilled"
	case BountyCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further transitions can originate from s.
func (s BountyStatus) Terminal() bool {
	return s == BountyFulfilled || s == BountyCancelled
}

// Bounty is the ledger's canonical bounty record. The reward is held in
// escrow by the ledger from creation until fulfillment or cancellation.
type Bounty struct {
	ID              uint64
	Creator         common.Address
	Title           string
	Description     string
	MetadataHash    string
	Category        string
	Reward          decimal.Decimal
	Deadline        time.Time
	Status          BountyStatus
	CreatedAt       time.Time
	Fulfiller       common.Address
	SubmissionCount int
}

// Submission is an entry filed against an active bounty. At most one
// submission per bounty is ever approved.
type Submission struct {
	BountyID    uint64
	Submitter   common.Address
	DataHash    string
	Description string
	SubmittedAt time.Time
	Approved    bool
}

// PurchaseEvent is a ledger-observed purchase inside the bounded event
// window. Events do not carry a transaction hash, which is why the
// reconciler dedups them by (buyer, dataset) instead.
type PurchaseEvent struct {
	DatasetID uint64
	Buyer     common.Address
	Price     decimal.Decimal
	Timestamp time.Time
}

// PurchaseReceipt is returned by a settled purchase write.
type PurchaseReceipt struct {
	TxHash    string
	Timestamp time.Time
}

type datasetPayload struct {
	V            int    `json:"v"`
	ID           uint64 `json:"id"`
	Owner        string `json:"owner"`
	DataHash     string `json:"dataHash"`
	MetadataHash string `json:"metadataHash"`
	PriceWei     string `json:"priceWei"`
	Category     string `json:"category"`
	Timestamp    int64  `json:"timestamp"`
	Active       bool   `json:"active"`
}

func (p datasetPayload) decode() (*Dataset, error) {
	if p.V != payloadVersion {
		return nil, fmt.Errorf("registry: unsupported dataset payload version %d", p.V)
	}
	if !common.IsHexAddress(p.Owner) {
		return nil, fmt.Errorf("registry: dataset %d has malformed owner %q", p.ID, p.Owner)
	}
	price, err := ParseWei(p.PriceWei)
	if err != nil {
		return nil, fmt.Errorf("registry: dataset %d price: %w", p.ID, err)
	}
	return &Dataset{
		ID:           p.ID,
		Owner:        common.HexToAddress(p.Owner),
		DataHash:     p.DataHash,
		MetadataHash: p.MetadataHash,
		Price:        price,
		Category:     p.Category,
		CreatedAt:    time.Unix(p.Timestamp, 0).UTC(),
		Active:       p.Active,
	}, nil
}

type bountyPayload struct {
	V               int    `json:"v"`
	ID              uint64 `json:"id"`
	Creator         string `json:"creator"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	MetadataHash    string `json:"metadataHash"`
	Category        string `json:"category"`
	RewardWei       string `json:"rewardWei"`
	Deadline        int64  `json:"deadline"`
	Status          uint8  `json:"status"`
	Timestamp       int64  `json:"timestamp"`
	Fulfiller       string `json:"fulfiller,omitempty"`
	SubmissionCount int    `json:"submissionCount"`
}

func (p bountyPayload) decode() (*Bounty, error) {
	if p.V != payloadVersion {
		return nil, fmt.Errorf("registry: unsupported bounty payload version %d", p.V)
	}
	if !common.IsHexAddress(p.Creator) {
		return nil, fmt.Errorf("registry: bounty %d has malformed creator %q", p.ID, p.Creator)
	}
	if p.Status > uint8(BountyCancelled) {
		return nil, fmt.Errorf("registry: bounty %d has unknown status %d", p.ID, p.Status)
	}
	reward, err := ParseWei(p.RewardWei)
	if err != nil {
		return nil, fmt.Errorf("registry: bounty %d reward: %w", p.ID, err)
	}
	fulfiller := common.Address{}
	if p.Fulfiller != "" {
		if !common.IsHexAddress(p.Fulfiller) {
			return nil, fmt.Errorf("registry: bounty %d has malformed fulfiller %q", p.ID, p.Fulfiller)
		}
		fulfiller = common.HexToAddress(p.Fulfiller)
	}
	return &Bounty{
		ID:              p.ID,
		Creator:         common.HexToAddress(p.Creator),
		Title:           p.Title,
		Description:     p.Description,
		MetadataHash:    p.MetadataHash,
		Category:        p.Category,
		Reward:          reward,
		Deadline:        time.Unix(p.Deadline, 0).UTC(),
		Status:          BountyStatus(p.Status),
		CreatedAt:       time.Unix(p.Timestamp, 0).UTC(),
		Fulfiller:       fulfiller,
		SubmissionCount: p.SubmissionCount,
	}, nil
}

type submissionPayload struct {
	V           int    `json:"v"`
	BountyID    uint64 `json:"bountyId"`
	Submitter   string `json:"submitter"`
	DataHash    string `json:"dataHash"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
	Approved    bool   `json:"approved"`
}

func (p submissionPayload) decode() (Submission, error) {
	if p.V != payloadVersion {
		return Submission{}, fmt.Errorf("registry: unsupported submission payload version %d", p.V)
	}
	if !common.IsHexAddress(p.Submitter) {
		return Submission{}, fmt.Errorf("registry: submission for bounty %d has malformed submitter %q", p.BountyID, p.Submitter)
	}
	return Submission{
		BountyID:    p.BountyID,
		Submitter:   common.HexToAddress(p.Submitter),
		DataHash:    p.DataHash,
		Description: p.Description,
		SubmittedAt: time.Unix(p.Timestamp, 0).UTC(),
		Approved:    p.Approved,
	}, nil
}

type purchaseEventPayload struct {
	V         int    `json:"v"`
	DatasetID uint64 `json:"datasetId"`
	Buyer     string `json:"buyer"`
	PriceWei  string `json:"priceWei"`
	Timestamp int64  `json:"timestamp"`
}

func (p purchaseEventPayload) decode() (PurchaseEvent, error) {
	if p.V != payloadVersion {
		return PurchaseEvent{}, fmt.Errorf("registry: unsupported purchase event payload version %d", p.V)
	}
	if !common.IsHexAddress(p.Buyer) {
		return PurchaseEvent{}, fmt.Errorf("registry: purchase event for dataset %d has malformed buyer %q", p.DatasetID, p.Buyer)
	}
	price, err := ParseWei(p.PriceWei)
	if err != nil {
		return PurchaseEvent{}, fmt.Errorf("registry: purchase event for dataset %d price: %w", p.DatasetID, err)
	}
	return PurchaseEvent{
		DatasetID: p.DatasetID,
		Buyer:     common.HexToAddress(p.Buyer),
		Price:     price,
		Timestamp: time.Unix(p.Timestamp, 0).UTC(),
	}, nil
}
