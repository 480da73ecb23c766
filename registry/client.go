package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Client is the narrow boundary to the remote registry ledger. All writes
// block until the ledger reports the effect as durable; callers must treat
// a returned error according to its WriteError outcome and never retry
// writes automatically.
type Client interface {
	GetDataset(ctx context.Context, id uint64) (*Dataset, error)
	DatasetCount(ctx context.Context) (uint64, error)
	DatasetsByOwner(ctx context.Context, owner common.Address) ([]uint64, error)
	GetBounty(ctx context.Context, id uint64) (*Bounty, error)
	BountyCount(ctx context.Context) (uint64, error)
	Submissions(ctx context.Context, bountyID uint64) ([]Submission, error)
	// PurchaseEvents is bounded: the ledger enforces MaxEventWindow and the
	// result is never a full history.
	PurchaseEvents(ctx context.Context, buyer common.Address, fromBlock, toBlock uint64) ([]PurchaseEvent, error)
	BlockNumber(ctx context.Context) (uint64, error)

	RegisterDataset(ctx context.Context, owner common.Address, dataHash, metadataHash string, price decimal.Decimal, category string) (uint64, string, error)
	UpdateDatasetMetadata(ctx context.Context, caller common.Address, id uint64, metadataHash string) (string, error)
	PurchaseDataset(ctx context.Context, buyer common.Address, id uint64, payment decimal.Decimal) (*PurchaseReceipt, error)
	CreateBounty(ctx context.Context, creator common.Address, title, description, metadataHash, category string, deadline time.Time, rewardEscrow decimal.Decimal) (uint64, string, error)
	SubmitToBounty(ctx context.Context, submitter common.Address, bountyID uint64, contentHash, description string) (string, error)
	ApproveBounty(ctx context.Context, caller common.Address, bountyID uint64, submissionIndex int) (string, error)
	CancelBounty(ctx context.Context, caller common.Address, bountyID uint64) (string, error)
}

// RPCClient implements Client against the registry node's JSON-RPC server.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

var _ Client = (*RPCClient)(nil)

func NewRPCClient(baseURL, authToken string) *RPCClient {
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RPCClient) GetDataset(ctx context.Context, id uint64) (*Dataset, error) {
	var payload datasetPayload
	if err := c.call(ctx, "market_getDataset", []interface{}{map[string]uint64{"id": id}}, &payload); err != nil {
		return nil, err
	}
	return payload.decode()
}

func (c *RPCClient) DatasetCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := c.call(ctx, "market_datasetCount", []interface{}{}, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *RPCClient) DatasetsByOwner(ctx context.Context, owner common.Address) ([]uint64, error) {
	var ids []uint64
	params := []interface{}{map[string]string{"owner": owner.Hex()}}
	if err := c.call(ctx, "market_datasetsByOwner", params, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *RPCClient) GetBounty(ctx context.Context, id uint64) (*Bounty, error) {
	var payload bountyPayload
	if err := c.call(ctx, "market_getBounty", []interface{}{map[string]uint64{"id": id}}, &payload); err != nil {
		return nil, err
	}
	return payload.decode()
}

func (c *RPCClient) BountyCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := c.call(ctx, "market_bountyCount", []interface{}{}, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *RPCClient) Submissions(ctx context.Context, bountyID uint64) ([]Submission, error) {
	var payloads []submissionPayload
	params := []interface{}{map[string]uint64{"bountyId": bountyID}}
	if err := c.call(ctx, "market_getSubmissions", params, &payloads); err != nil {
		return nil, err
	}
	subs := make([]Submission, 0, len(payloads))
	for _, p := range payloads {
		sub, err := p.decode()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *RPCClient) PurchaseEvents(ctx context.Context, buyer common.Address, fromBlock, toBlock uint64) ([]PurchaseEvent, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("registry: event window end %d before start %d", toBlock, fromBlock)
	}
	if toBlock-fromBlock > MaxEventWindow {
		return nil, fmt.Errorf("registry: event window %d exceeds ledger maximum %d", toBlock-fromBlock, MaxEventWindow)
	}
	params := []interface{}{map[string]interface{}{
		"buyer":     buyer.Hex(),
		"fromBlock": fromBlock,
		"toBlock":   toBlock,
	}}
	var payloads []purchaseEventPayload
	if err := c.call(ctx, "market_purchaseEvents", params, &payloads); err != nil {
		return nil, err
	}
	events := make([]PurchaseEvent, 0, len(payloads))
	for _, p := range payloads {
		ev, err := p.decode()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	if err := c.call(ctx, "market_blockNumber", []interface{}{}, &head); err != nil {
		return 0, err
	}
	return head, nil
}

type registerResult struct {
	DatasetID uint64 `json:"datasetId"`
	TxHash    string `json:"txHash"`
}

func (c *RPCClient) RegisterDataset(ctx context.Context, owner common.Address, dataHash, metadataHash string, price decimal.Decimal, category string) (uint64, string, error) {
	priceWei, err := FormatWei(price)
	if err != nil {
		return 0, "", err
	}
	params := []interface{}{map[string]interface{}{
		"owner":        owner.Hex(),
		"dataHash":     dataHash,
		"metadataHash": metadataHash,
		"priceWei":     priceWei,
		"category":     category,
	}}
	var result registerResult
	if err := c.write(ctx, "market_registerDataset", params, &result); err != nil {
		return 0, "", err
	}
	return result.DatasetID, result.TxHash, nil
}

type txResult struct {
	TxHash    string `json:"txHash"`
	Timestamp int64  `json:"timestamp"`
}

func (c *RPCClient) UpdateDatasetMetadata(ctx context.Context, caller common.Address, id uint64, metadataHash string) (string, error) {
	params := []interface{}{map[string]interface{}{
		"caller":       caller.Hex(),
		"id":           id,
		"metadataHash": metadataHash,
	}}
	var result txResult
	if err := c.write(ctx, "market_updateDatasetMetadata", params, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (c *RPCClient) PurchaseDataset(ctx context.Context, buyer common.Address, id uint64, payment decimal.Decimal) (*PurchaseReceipt, error) {
	paymentWei, err := FormatWei(payment)
	if err != nil {
		return nil, err
	}
	params := []interface{}{map[string]interface{}{
		"buyer":      buyer.Hex(),
		"id":         id,
		"paymentWei": paymentWei,
	}}
	var result txResult
	if err := c.write(ctx, "market_purchaseDataset", params, &result); err != nil {
		return nil, err
	}
	return &PurchaseReceipt{
		TxHash:    result.TxHash,
		Timestamp: time.Unix(result.Timestamp, 0).UTC(),
	}, nil
}

type createBountyResult struct {
	BountyID uint64 `json:"bountyId"`
	TxHash   string `json:"txHash"`
}

func (c *RPCClient) CreateBounty(ctx context.Context, creator common.Address, title, description, metadataHash, category string, deadline time.Time, rewardEscrow decimal.Decimal) (uint64, string, error) {
	rewardWei, err := FormatWei(rewardEscrow)
	if err != nil {
		return 0, "", err
	}
	params := []interface{}{map[string]interface{}{
		"creator":      creator.Hex(),
		"title":        title,
		"description":  description,
		"metadataHash": metadataHash,
		"category":     category,
		"deadline":     deadline.Unix(),
		"rewardWei":    rewardWei,
	}}
	var result createBountyResult
	if err := c.write(ctx, "market_createBounty", params, &result); err != nil {
		return 0, "", err
	}
	return result.BountyID, result.TxHash, nil
}

func (c *RPCClient) SubmitToBounty(ctx context.Context, submitter common.Address, bountyID uint64, contentHash, description string) (string, error) {
	params := []interface{}{map[string]interface{}{
		"submitter":   submitter.Hex(),
		"bountyId":    bountyID,
		"dataHash":    contentHash,
		"description": description,
	}}
	var result txResult
	if err := c.write(ctx, "market_submitToBounty", params, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (c *RPCClient) ApproveBounty(ctx context.Context, caller common.Address, bountyID uint64, submissionIndex int) (string, error) {
	params := []interface{}{map[string]interface{}{
		"caller":          caller.Hex(),
		"bountyId":        bountyID,
		"submissionIndex": submissionIndex,
	}}
	var result txResult
	if err := c.write(ctx, "market_approveBounty", params, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (c *RPCClient) CancelBounty(ctx context.Context, caller common.Address, bountyID uint64) (string, error) {
	params := []interface{}{map[string]interface{}{
		"caller":   caller.Hex(),
		"bountyId": bountyID,
	}}
	var result txResult
	if err := c.write(ctx, "market_cancelBounty", params, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

// write wraps call so that failed state changes report whether the ledger is
// known to have refused them.
func (c *RPCClient) write(ctx context.Context, method string, params interface{}, out interface{}) error {
	err := c.call(ctx, method, params, out)
	if err == nil {
		return nil
	}
	outcome := OutcomeUnknown
	if errors.Is(err, ErrRejected) {
		// The node evaluated the call and refused it; nothing happened.
		outcome = OutcomeNotApplied
	}
	return &WriteError{Op: method, Outcome: outcome, Err: err}
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry rpc %s: %v: %w", method, err, ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registry rpc %s: status=%d body=%s: %w", method, resp.StatusCode, string(body), ErrUnavailable)
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("registry rpc %s: decode response: %v: %w", method, err, ErrUnavailable)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("registry rpc %s: code=%d %s: %w", method, rpcResp.Error.Code, rpcResp.Error.Message, ErrRejected)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("registry rpc %s: empty result: %w", method, ErrUnavailable)
	}
	return json.Unmarshal(rpcResp.Result, out)
}
