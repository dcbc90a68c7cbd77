package ledgerxgo

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type balanceJSONResp struct {
	Balance decimal.Decimal `json:"balance"`
}

type historyJSONResp struct {
	Transactions []Transaction `json:"transactions"`
}

type errorJSONResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func NewHTTPHandler(svc Service, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		Svc: svc,
		Log: log,
	}
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.NotFound(HTTPNotFound)
	mux.Post("/transfers", hndlr.Transfer)
	mux.Route("/accounts", func(r chi.Router) {
		r.Route("/{acctID:[0-9]+}", func(rr chi.Router) {
			rr.Post("/deposit", hndlr.Deposit)
			rr.Post("/withdraw", hndlr.Withdraw)
			rr.Get("/balance", hndlr.Balance)
			rr.Get("/transactions", hndlr.History)
			rr.Get("/statement", hndlr.Statement)
		})
	})
	mux.Route("/admin", func(r chi.Router) {
		r.Post("/transactions", hndlr.ManualTransaction)
		r.Post("/transactions/bulk", hndlr.ImportBatch)
		r.Put("/accounts/{acctID:[0-9]+}/status", hndlr.SetAccountStatus)
	})

	return mux
}

type httpHandler struct {
	Svc Service
	Log *zerolog.Logger
}

func actorFrom(r *http.Request) Actor {
	return Actor{
		ID:   r.Header.Get(HeaderActorID),
		Role: r.Header.Get(HeaderActorRole),
	}
}

// decode reads the JSON body into dst, writing the error response itself on failure.
func (h *httpHandler) decode(w http.ResponseWriter, r *http.Request, method string, dst any) bool {
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.Log.Err(err).Str("method", method).Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return false
	}
	if err = json.Unmarshal(buf, dst); err != nil {
		h.Log.Err(err).Str("method", method).Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return false
	}
	return true
}

func (h *httpHandler) acctID(w http.ResponseWriter, r *http.Request, method string) (snowflake.ID, bool) {
	pid := chi.URLParam(r, "acctID")
	acctID, err := snowflake.ParseString(pid)
	if err != nil {
		h.Log.Err(err).Str("method", method).Msg("error parsing account ID")
		WriteHTTPError(w, ErrBadRequest{map[string]string{"acctID": "invalid format"}})
		return 0, false
	}
	return acctID, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func (h *httpHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferReq
	if !h.decode(w, r, "transfer", &req) {
		return
	}
	if req.TransactionID == "" {
		req.TransactionID = r.Header.Get(HeaderIdempotencyKey)
	}
	req.Actor = actorFrom(r)
	res, err := h.Svc.Transfer(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *httpHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req ChargeReq
	if !h.decode(w, r, "deposit", &req) {
		return
	}
	acctID, ok := h.acctID(w, r, "deposit")
	if !ok {
		return
	}
	req.AcctID = acctID
	if req.TransactionID == "" {
		req.TransactionID = r.Header.Get(HeaderIdempotencyKey)
	}
	req.Actor = actorFrom(r)
	res, err := h.Svc.Deposit(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *httpHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req ChargeReq
	if !h.decode(w, r, "withdraw", &req) {
		return
	}
	acctID, ok := h.acctID(w, r, "withdraw")
	if !ok {
		return
	}
	req.AcctID = acctID
	if req.TransactionID == "" {
		req.TransactionID = r.Header.Get(HeaderIdempotencyKey)
	}
	req.Actor = actorFrom(r)
	res, err := h.Svc.Withdraw(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *httpHandler) ManualTransaction(w http.ResponseWriter, r *http.Request) {
	var req ManualReq
	if !h.decode(w, r, "manual transaction", &req) {
		return
	}
	if req.TransactionID == "" {
		req.TransactionID = r.Header.Get(HeaderIdempotencyKey)
	}
	req.Actor = actorFrom(r)
	res, err := h.Svc.ManualTransaction(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *httpHandler) ImportBatch(w http.ResponseWriter, r *http.Request) {
	var req BulkReq
	if !h.decode(w, r, "import batch", &req) {
		return
	}
	if req.BatchID == "" {
		req.BatchID = r.Header.Get(HeaderIdempotencyKey)
	}
	req.Actor = actorFrom(r)
	res, err := h.Svc.ImportBatch(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *httpHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acctID, ok := h.acctID(w, r, "balance")
	if !ok {
		return
	}
	req := BalanceReq{
		AcctID: acctID,
		Actor:  actorFrom(r),
	}
	bal, err := h.Svc.Balance(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, balanceJSONResp{Balance: *bal})
}

func (h *httpHandler) History(w http.ResponseWriter, r *http.Request) {
	acctID, ok := h.acctID(w, r, "history")
	if !ok {
		return
	}
	req := HistoryReq{
		AcctID: acctID,
		Actor:  actorFrom(r),
	}
	if lim := r.URL.Query().Get("limit"); lim != "" {
		n, err := strconv.Atoi(lim)
		if err != nil {
			WriteHTTPError(w, ErrBadRequest{map[string]string{"limit": "invalid format"}})
			return
		}
		req.Limit = n
	}
	txns, err := h.Svc.History(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	if txns == nil {
		txns = []Transaction{}
	}
	writeJSON(w, historyJSONResp{Transactions: txns})
}

func (h *httpHandler) Statement(w http.ResponseWriter, r *http.Request) {
	acctID, ok := h.acctID(w, r, "statement")
	if !ok {
		return
	}
	req := StatementReq{
		AcctID: acctID,
		Actor:  actorFrom(r),
	}
	buf := new(bytes.Buffer)
	if err := h.Svc.Statement(r.Context(), buf, req); err != nil {
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		h.Log.Err(err).Str("method", "statement").Msg("error writing statement")
	}
}

func (h *httpHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if !h.decode(w, r, "set account status", &req) {
		return
	}
	acctID, ok := h.acctID(w, r, "set account status")
	if !ok {
		return
	}
	req.AcctID = acctID
	req.Actor = actorFrom(r)
	acct, err := h.Svc.SetAccountStatus(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, acct)
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	var (
		errbr  = &ErrBadRequest{}
		errnf  = &ErrNotFound{}
		errdup = &ErrDuplicateTransaction{}
		errcb  = &ErrComplianceBlocked{}
		errfb  = &ErrForbidden{}
	)
	switch {
	case errors.As(err, errbr):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	case errors.As(err, &ErrInvalidAmount{}):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: CodeInvalidAmount, Message: err.Error()})
	case errors.As(err, errnf):
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(errnf)
	case errors.As(err, &ErrAccountNotFound{}):
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: CodeAccountNotFound, Message: err.Error()})
	case errors.As(err, errdup):
		w.WriteHeader(http.StatusConflict)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: "DUPLICATE_TRANSACTION", Message: err.Error(), Details: errdup})
	case errors.As(err, &ErrInsufficientFunds{}):
		w.WriteHeader(http.StatusUnprocessableEntity)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: CodeInsufficientFunds, Message: err.Error()})
	case errors.As(err, &ErrAccountInactive{}):
		w.WriteHeader(http.StatusUnprocessableEntity)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: CodeAccountInactive, Message: err.Error()})
	case errors.As(err, errcb):
		w.WriteHeader(http.StatusUnprocessableEntity)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: CodeComplianceBlocked, Message: err.Error(), Details: errcb.Flags})
	case errors.As(err, errfb):
		w.WriteHeader(http.StatusForbidden)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: CodeForbidden, Message: err.Error()})
	case errors.Is(err, ErrServiceBusy):
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(errorJSONResp{Code: "SERVICE_BUSY", Message: "service busy, retry later"})
	default:
		log.Error().Err(err).Msg("unhandled service error")
		w.WriteHeader(http.StatusInternalServerError)
		resp := map[string]string{
			"message": "server error",
		}
		ne = json.NewEncoder(w).Encode(resp)
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
