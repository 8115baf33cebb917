package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"p2pescrow/internal/callerauth"
	"p2pescrow/internal/chain"
	"p2pescrow/internal/escrow"
	"p2pescrow/internal/idempotency"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxBodyBytes         = 64 << 10
	defaultEventsLimit   = 500
)

type escrowResponse struct {
	ID             uint64    `json:"id"`
	Buyer          string    `json:"buyer"`
	Seller         string    `json:"seller"`
	Amount         string    `json:"amount"`
	Item           string    `json:"item"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	ContractStatus uint8     `json:"contractStatus"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (s *Server) toResponse(rec *escrow.Record) escrowResponse {
	ordinal, _ := chain.StatusToContract(s.engine.Variant(), rec.Status)
	return escrowResponse{
		ID:             rec.ID,
		Buyer:          rec.Buyer.Hex(),
		Seller:         rec.Seller.Hex(),
		Amount:         rec.Amount.String(),
		Item:           rec.Item,
		Description:    rec.Description,
		Status:         rec.Status.String(),
		ContractStatus: ordinal,
		CreatedAt:      rec.CreatedAt,
	}
}

type createEscrowRequest struct {
	Seller      string `json:"seller"`
	Amount      string `json:"amount"`
	Item        string `json:"item"`
	Description string `json:"description"`
	Deposit     string `json:"deposit,omitempty"`
}

type createEscrowResponse struct {
	ID     uint64         `json:"id"`
	Escrow escrowResponse `json:"escrow"`
}

type fundEscrowRequest struct {
	Amount string `json:"amount"`
}

// outcome is a successful mutation result.
type outcome struct {
	status int
	body   interface{}
}

type mutationFunc func(ctx context.Context, caller common.Address, r *http.Request, body []byte) (outcome, error)

// mutate authenticates the caller, replays idempotent retries and runs fn.
// Responses below 500 are cached under the idempotency key, errors included,
// so a retry sees the first outcome.
func (s *Server) mutate(action escrow.Action, fn mutationFunc) http.Handler {
	return s.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, ok := callerauth.CallerFrom(ctx)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthenticated", Message: "no caller"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, badRequest{"unreadable request body"})
			return
		}

		log := s.log.WithFields(logrus.Fields{
			"request_id": r.Header.Get(headerRequestID),
			"action":     action.String(),
			"caller":     caller.Hex(),
		})

		var scoped, hash string
		if key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey)); key != "" {
			scoped = idempotency.ScopedKey(caller.Hex(), r.URL.Path, key)
			hash = idempotency.HashRequest(r.Method, r.URL.Path, body)
			existing, err := s.store.Get(ctx, scoped)
			if err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
			}
			if existing != nil {
				if err := existing.Match(hash); err != nil {
					s.metrics.incReplay("mismatch")
					writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "IdempotencyMismatch", Message: err.Error()})
					return
				}
				s.metrics.incReplay("replayed")
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(headerReplayed, "true")
				w.WriteHeader(existing.StatusCode)
				_, _ = w.Write(existing.Response)
				return
			}
		}

		status, payload := s.run(ctx, action, caller, r, body, fn, log)
		b, _ := json.Marshal(payload)

		if scoped != "" && status < http.StatusInternalServerError {
			now := time.Now()
			record := idempotency.Record{
				RequestHash: hash,
				StatusCode:  status,
				Response:    b,
				CreatedAt:   now,
				ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
			}
			if err := s.store.Save(ctx, scoped, record); err != nil {
				log.WithError(err).Warn("idempotency save failed")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(append(b, '\n'))
	}))
}

func (s *Server) run(ctx context.Context, action escrow.Action, caller common.Address, r *http.Request, body []byte, fn mutationFunc, log logrus.FieldLogger) (int, interface{}) {
	out, err := fn(ctx, caller, r, body)
	if err != nil {
		status, resp := errorBody(err)
		s.metrics.incTransition(action, resp.Error)
		entry := log.WithFields(logrus.Fields{"result": resp.Error, "path": r.URL.Path})
		if status >= http.StatusInternalServerError {
			entry.WithError(err).Error("escrow operation failed")
		} else {
			entry.Info(err.Error())
		}
		return status, resp
	}
	s.metrics.incTransition(action, "ok")
	log.WithField("path", r.URL.Path).Info("escrow operation committed")
	return out.status, out.body
}

func (s *Server) createEscrow(ctx context.Context, caller common.Address, _ *http.Request, body []byte) (outcome, error) {
	var req createEscrowRequest
	if err := decodeBody(body, &req); err != nil {
		return outcome{}, err
	}
	if !common.IsHexAddress(req.Seller) {
		return outcome{}, badRequest{"seller must be a hex address"}
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return outcome{}, err
	}
	var deposit *big.Int
	if req.Deposit != "" {
		if deposit, err = parseAmount("deposit", req.Deposit); err != nil {
			return outcome{}, err
		}
	}

	id, err := s.engine.Create(ctx, caller, escrow.CreateParams{
		Seller:      common.HexToAddress(req.Seller),
		Amount:      amount,
		Item:        req.Item,
		Description: req.Description,
		Deposit:     deposit,
	})
	if err != nil {
		return outcome{}, err
	}
	rec, err := s.engine.Get(id)
	if err != nil {
		return outcome{}, err
	}
	return outcome{status: http.StatusCreated, body: createEscrowResponse{ID: id, Escrow: s.toResponse(rec)}}, nil
}

func (s *Server) fundEscrow(ctx context.Context, caller common.Address, r *http.Request, body []byte) (outcome, error) {
	id, err := pathID(r)
	if err != nil {
		return outcome{}, err
	}
	var req fundEscrowRequest
	if err := decodeBody(body, &req); err != nil {
		return outcome{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return outcome{}, err
	}
	rec, err := s.engine.Fund(ctx, caller, id, amount)
	if err != nil {
		return outcome{}, err
	}
	return outcome{status: http.StatusOK, body: s.toResponse(rec)}, nil
}

// transition handles the body-less operations.
func (s *Server) transition(action escrow.Action) mutationFunc {
	call := map[escrow.Action]func(context.Context, common.Address, uint64) (*escrow.Record, error){
		escrow.ActionAccept:        s.engine.Accept,
		escrow.ActionMarkDelivered: s.engine.MarkDelivered,
		escrow.ActionRelease:       s.engine.Release,
		escrow.ActionRefund:        s.engine.Refund,
	}[action]
	return func(ctx context.Context, caller common.Address, r *http.Request, _ []byte) (outcome, error) {
		id, err := pathID(r)
		if err != nil {
			return outcome{}, err
		}
		rec, err := call(ctx, caller, id)
		if err != nil {
			return outcome{}, err
		}
		return outcome{status: http.StatusOK, body: s.toResponse(rec)}, nil
	}
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.engine.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(rec))
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"counter": s.engine.Counter()})
}

func (s *Server) handleCustody(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"total": s.engine.Ledger().Total().String()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, badRequest{"address must be a hex address"})
		return
	}
	addr := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": s.engine.Ledger().Balance(addr).String(),
	})
}

type eventsResponse struct {
	Events []escrow.Event `json:"events"`
	Last   uint64         `json:"last"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryUint(r, "limit", defaultEventsLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit == 0 || limit > defaultEventsLimit {
		limit = defaultEventsLimit
	}
	events := s.engine.Events().Since(after, int(limit))
	if events == nil {
		events = []escrow.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Last: s.engine.Events().Len()})
}

type logResponse struct {
	Address  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics"`
	Data     hexutil.Bytes  `json:"data"`
	LogIndex hexutil.Uint   `json:"logIndex"`
	Event    escrow.Event   `json:"event"`
}

// handleEscrowLogs renders the escrow's events as the contract logs an
// explorer would decode.
func (s *Server) handleEscrowLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.engine.Get(id); err != nil {
		writeError(w, err)
		return
	}
	events := s.engine.Events().ForEscrow(id)
	out := make([]logResponse, 0, len(events))
	for _, ev := range events {
		lg, err := chain.EncodeLog(s.contract, ev)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, logResponse{
			Address:  lg.Address,
			Topics:   lg.Topics,
			Data:     lg.Data,
			LogIndex: hexutil.Uint(lg.Index),
			Event:    ev,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeBody(body []byte, v interface{}) error {
	if len(body) == 0 {
		return badRequest{"request body required"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest{"invalid json payload"}
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, badRequest{field + " is required"}
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, badRequest{fmt.Sprintf("%s must be a decimal integer", field)}
	}
	return v, nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, badRequest{"escrow id must be a positive integer"}
	}
	return id, nil
}

func queryUint(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest{name + " must be a non-negative integer"}
	}
	return v, nil
}
