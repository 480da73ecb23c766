package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"datamarket/analytics"
	"datamarket/native/bounty"
	"datamarket/native/fees"
	"datamarket/reconcile"
	"datamarket/registry"
	"datamarket/storage/purchases"
)

// headerAccount carries the caller's account for state-changing
// operations. The gateway never keeps a session of its own; every call
// names its account explicitly.
const headerAccount = "X-Market-Account"

const maxRequestBody = 1 << 20 // 1 MiB

// ServerConfig captures the dependencies required to construct the server.
type ServerConfig struct {
	Ledger           registry.Client
	Cache            *purchases.Store
	Reconciler       *reconcile.Reconciler
	Bounties         *bounty.Engine
	Logger           *slog.Logger
	DefaultTrendDays int
}

// Server is the HTTP front-end over the settlement engine.
type Server struct {
	ledger      registry.Client
	cache       *purchases.Store
	reconciler  *reconcile.Reconciler
	bounties    *bounty.Engine
	logger      *slog.Logger
	defaultDays int

	router http.Handler
}

// NewServer wires the routing table over the configured engine pieces.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("market-gateway: ledger client required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("market-gateway: purchase cache required")
	}
	if cfg.Reconciler == nil {
		return nil, errors.New("market-gateway: reconciler required")
	}
	if cfg.Bounties == nil {
		return nil, errors.New("market-gateway: bounty engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	days := cfg.DefaultTrendDays
	if days <= 0 {
		days = 30
	}
	s := &Server{
		ledger:      cfg.Ledger,
		cache:       cfg.Cache,
		reconciler:  cfg.Reconciler,
		bounties:    cfg.Bounties,
		logger:      logger,
		defaultDays: days,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/purchases/{account}", s.listPurchases)
		api.Post("/purchases/{account}", s.purchaseDataset)
		api.Delete("/purchases/{account}", s.clearPurchases)

		api.Get("/quotes/purchase", s.quotePurchase)

		api.Get("/bounties", s.listBounties)
		api.Post("/bounties", s.createBounty)
		api.Post("/bounties/{id}/submissions", s.submitToBounty)
		api.Post("/bounties/{id}/approve", s.approveBounty)
		api.Post("/bounties/{id}/cancel", s.cancelBounty)

		api.Get("/analytics/{account}/trend", s.revenueTrend)
		api.Get("/analytics/{account}/period", s.periodAnalytics)
		api.Get("/analytics/{account}/summary", s.accountSummary)
	})

	return r
}

type datasetView struct {
	ID           uint64          `json:"id"`
	Owner        string          `json:"owner"`
	DataHash     string          `json:"dataHash"`
	MetadataHash string          `json:"metadataHash"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category"`
	CreatedAt    time.Time       `json:"createdAt"`
	Active       bool            `json:"active"`
}

func newDatasetView(d registry.Dataset) datasetView {
	return datasetView{
		ID:           d.ID,
		Owner:        d.Owner.Hex(),
		DataHash:     d.DataHash,
		MetadataHash: d.MetadataHash,
		Price:        d.Price,
		Category:     d.Category,
		CreatedAt:    d.CreatedAt,
		Active:       d.Active,
	}
}

type purchaseView struct {
	DatasetID uint64          `json:"datasetId"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	TxHash    string          `json:"txHash"`
	Dataset   datasetView     `json:"dataset"`
}

type purchaseListResponse struct {
	Purchases      []purchaseView `json:"purchases"`
	LedgerDegraded bool           `json:"ledgerDegraded"`
}

func (s *Server) listPurchases(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	result, err := s.reconciler.Reconcile(r.Context(), account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	views := make([]purchaseView, 0, len(result.Entries))
	for _, e := range result.Entries {
		views = append(views, purchaseView{
			DatasetID: e.Record.DatasetID,
			Price:     e.Record.Price,
			Timestamp: e.Record.Timestamp,
			TxHash:    e.Record.TxHash,
			Dataset:   newDatasetView(e.Dataset),
		})
	}
	s.writeJSON(w, http.StatusOK, purchaseListResponse{
		Purchases:      views,
		LedgerDegraded: result.LedgerDegraded,
	})
}

type purchaseRequest struct {
	DatasetID uint64 `json:"datasetId"`
}

type purchaseResponse struct {
	DatasetID uint64            `json:"datasetId"`
	TxHash    string            `json:"txHash"`
	Timestamp time.Time         `json:"timestamp"`
	Quote     fees.PurchaseQuote `json:"quote"`
	Appended  bool              `json:"cached"`
}

func (s *Server) purchaseDataset(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	dataset, err := s.ledger.GetDataset(r.Context(), req.DatasetID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !dataset.Active {
		s.writeError(w, http.StatusConflict, errors.New("dataset is not active"))
		return
	}

	quote, err := fees.QuotePurchase(dataset.Price)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	receipt, err := s.ledger.PurchaseDataset(r.Context(), account, dataset.ID, dataset.Price)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	// Write-through: the bounded ledger window will forget this event,
	// the cache must not. A cache failure after a durable ledger write
	// is reported but does not undo the purchase.
	appended, cacheErr := s.cache.Append(r.Context(), purchases.Record{
		RecordID:  uuid.NewString(),
		Buyer:     account,
		DatasetID: dataset.ID,
		Price:     dataset.Price,
		Timestamp: receipt.Timestamp,
		TxHash:    receipt.TxHash,
	})
	if cacheErr != nil {
		s.logger.Warn("purchase cached write failed",
			"buyer", account.Hex(),
			"dataset_id", dataset.ID,
			"tx_hash", receipt.TxHash,
			"error", cacheErr,
		)
	}

	s.writeJSON(w, http.StatusCreated, purchaseResponse{
		DatasetID: dataset.ID,
		TxHash:    receipt.TxHash,
		Timestamp: receipt.Timestamp,
		Quote:     quote,
		Appended:  appended,
	})
}

func (s *Server) clearPurchases(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	if err := s.cache.Clear(r.Context(), account); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) quotePurchase(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("price"))
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("price query parameter required"))
		return
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fees.ErrInvalidAmount)
		return
	}
	quote, err := fees.QuotePurchase(price)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

type bountyView struct {
	ID              uint64          `json:"id"`
	Creator         string          `json:"creator"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	MetadataHash    string          `json:"metadataHash"`
	Category        string          `json:"category"`
	Reward          decimal.Decimal `json:"reward"`
	Deadline        time.Time       `json:"deadline"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	Fulfiller       string          `json:"fulfiller,omitempty"`
	SubmissionCount int             `json:"submissionCount"`
}

func newBountyView(b registry.Bounty) bountyView {
	view := bountyView{
		ID:              b.ID,
		Creator:         b.Creator.Hex(),
		Title:           b.Title,
		Description:     b.Description,
		MetadataHash:    b.MetadataHash,
		Category:        b.Category,
		Reward:          b.Reward,
		Deadline:        b.Deadline,
		Status:          b.Status.String(),
		CreatedAt:       b.CreatedAt,
		SubmissionCount: b.SubmissionCount,
	}
	if b.Status == registry.BountyFulfilled {
		view.Fulfiller = b.Fulfiller.Hex()
	}
	return view
}

func (s *Server) listBounties(w http.ResponseWriter, r *http.Request) {
	filter, err := bounty.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := bounty.ParseSortOrder(r.URL.Query().Get("sort"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.bounties.List(r.Context(), filter, order)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	views := make([]bountyView, 0, len(list))
	for _, b := range list {
		views = append(views, newBountyView(b))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"bounties": views})
}

type createBountyRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	MetadataHash string          `json:"metadataHash"`
	Category     string          `json:"category"`
	Deadline     time.Time       `json:"deadline"`
	Reward       decimal.Decimal `json:"reward"`
}

func (s *Server) createBounty(w http.ResponseWriter, r *http.Request) {
	account, ok := s.headerAccount(w, r)
	if !ok {
		return
	}
	var req createBountyRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("title required"))
		return
	}
	created, txHash, err := s.bounties.Create(r.Context(), account, bounty.CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		MetadataHash: req.MetadataHash,
		Category:     req.Category,
		Deadline:     req.Deadline,
		Reward:       req.Reward,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"bounty": newBountyView(*created),
		"txHash": txHash,
	})
}

type submitRequest struct {
	ContentHash string `json:"contentHash"`
	Description string `json:"description"`
}

func (s *Server) submitToBounty(w http.ResponseWriter, r *http.Request) {
	account, ok := s.headerAccount(w, r)
	if !ok {
		return
	}
	id, ok := s.pathBountyID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ContentHash) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("contentHash required"))
		return
	}
	txHash, err := s.bounties.Submit(r.Context(), account, id, req.ContentHash, req.Description)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"txHash": txHash})
}

type approveRequest struct {
	SubmissionIndex int `json:"submissionIndex"`
}

type settlementView struct {
	BountyID    uint64          `json:"bountyId"`
	Fulfiller   string          `json:"fulfiller"`
	Reward      decimal.Decimal `json:"reward"`
	PlatformFee decimal.Decimal `json:"platformFee"`
	NetReward   decimal.Decimal `json:"netReward"`
	TxHash      string          `json:"txHash"`
}

func (s *Server) approveBounty(w http.ResponseWriter, r *http.Request) {
	account, ok := s.headerAccount(w, r)
	if !ok {
		return
	}
	id, ok := s.pathBountyID(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	settlement, err := s.bounties.Approve(r.Context(), account, id, req.SubmissionIndex)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settlementView{
		BountyID:    settlement.BountyID,
		Fulfiller:   settlement.Fulfiller.Hex(),
		Reward:      settlement.Reward,
		PlatformFee: settlement.PlatformFee,
		NetReward:   settlement.NetReward,
		TxHash:      settlement.TxHash,
	})
}

func (s *Server) cancelBounty(w http.ResponseWriter, r *http.Request) {
	account, ok := s.headerAccount(w, r)
	if !ok {
		return
	}
	id, ok := s.pathBountyID(w, r)
	if !ok {
		return
	}
	refund, err := s.bounties.Cancel(r.Context(), account, id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bountyId": refund.BountyID,
		"refund":   refund.Amount,
		"txHash":   refund.TxHash,
	})
}

func (s *Server) revenueTrend(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	days, ok := s.queryDays(w, r)
	if !ok {
		return
	}
	sales, _, err := s.salesFor(r, account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	points := analytics.RevenueTrend(sales, days, time.Now())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"trend": points})
}

func (s *Server) periodAnalytics(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	days, ok := s.queryDays(w, r)
	if !ok {
		return
	}
	sales, _, err := s.salesFor(r, account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analytics.PeriodAnalytics(sales, days, time.Now()))
}

func (s *Server) accountSummary(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	sales, _, err := s.salesFor(r, account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	ownedIDs, err := s.ledger.DatasetsByOwner(r.Context(), account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	owned := make([]registry.Dataset, 0, len(ownedIDs))
	for _, id := range ownedIDs {
		dataset, err := s.ledger.GetDataset(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		owned = append(owned, *dataset)
	}
	s.writeJSON(w, http.StatusOK, analytics.Summarize(owned, sales))
}

// salesFor maps the reconciled purchase view into analytics inputs. A
// degraded ledger read still yields the cached records, so analytics
// stay available while the ledger is down.
func (s *Server) salesFor(r *http.Request, account common.Address) ([]analytics.Sale, bool, error) {
	result, err := s.reconciler.Reconcile(r.Context(), account)
	if err != nil {
		return nil, false, err
	}
	sales := make([]analytics.Sale, 0, len(result.Entries))
	for _, e := range result.Entries {
		sales = append(sales, analytics.Sale{Timestamp: e.Record.Timestamp, Amount: e.Record.Price})
	}
	return sales, result.LedgerDegraded, nil
}

func (s *Server) pathAccount(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid account address"))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) headerAccount(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(r.Header.Get(headerAccount))
	if raw == "" {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing "+headerAccount+" header"))
		return common.Address{}, false
	}
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid "+headerAccount+" header"))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) pathBountyID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid bounty id"))
		return 0, false
	}
	return id, true
}

func (s *Server) queryDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	if raw == "" {
		return s.defaultDays, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("days must be a positive integer"))
		return 0, false
	}
	return days, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
		return false
	}
	return true
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// Rejected means the ledger refused the operation and nothing was
// applied; Unavailable and unresolvable datasets are upstream faults.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fees.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrRejected):
		status = http.StatusConflict
	case errors.Is(err, reconcile.ErrDatasetUnresolvable):
		status = http.StatusBadGateway
	case errors.Is(err, registry.ErrUnavailable):
		status = http.StatusBadGateway
	}

	var writeErr *registry.WriteError
	if errors.As(err, &writeErr) {
		s.writeJSON(w, status, map[string]string{
			"error":   err.Error(),
			"outcome": writeErr.Outcome.String(),
		})
		return
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
