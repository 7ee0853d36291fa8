/*
handlers.go - HTTP API handlers for the debt ledger

PURPOSE:
  Exposes the ledger service via REST API. Handles HTTP request/response,
  JSON serialization, and maps the session onto the ledger's explicit
  payer/creditor/debtor arguments.

ENDPOINTS:
  Session:
    POST   /api/login                  Exchange credentials for a token
    GET    /api/me                     Current member
    PUT    /api/me                     Change display name / password
    GET    /api/users                  List members

  Expenses:
    POST   /api/expenses               Submit split or buyfor (payer = session)
    GET    /api/expenses               All expenses, newest first

  Payments:
    POST   /api/payments               Settle debt (Idempotency-Key header)

  Debts:
    GET    /api/debts                  Records (?status=active|paid, ?scope=me|all)
    GET    /api/debts/owed-to-me       Active debts owed to session user
    GET    /api/debts/i-owe            Active debts session user owes
    GET    /api/debts/outstanding      ?creditor=&debtor=
    GET    /api/summary                Both directions and net balance
    GET    /api/timeline               ?scope=me|all
    GET    /api/stream                 Server-sent snapshots

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, payment exceeds outstanding
  - 401: Missing/invalid token, bad credentials
  - 403: Payment between two other members
  - 404: Unknown user, no debt between the pair
  - 409: Concurrent modification survived every retry
  - 503: Store write failed, nothing was saved; safe to try again

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Tokens and RequireSession
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/members"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Ledger
	Members *members.Directory
	Tokens  *TokenManager
	Metrics *Metrics
	Log     *zap.Logger

	// KeepAlive is the interval of comment frames on idle streams.
	KeepAlive time.Duration
}

// NewHandler creates a new handler. A nil metrics gets a private registry.
func NewHandler(l *ledger.Ledger, dir *members.Directory, tokens *TokenManager, metrics *Metrics, log *zap.Logger) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Ledger:    l,
		Members:   dir,
		Tokens:    tokens,
		Metrics:   metrics,
		Log:       log,
		KeepAlive: 25 * time.Second,
	}
}

// pinger is implemented by stores that can report connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Ledger.Store().(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// Login exchanges a username and password for a session token.
// POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	user, err := h.Members.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
			return
		}
		h.writeLedgerError(w, err)
		return
	}

	token, expiresAt, err := h.Tokens.Generate(*user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      toUserDTO(*user),
	})
}

// GetMe returns the session member.
// GET /api/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.Ledger.Store().GetUser(r.Context(), SessionUser(r.Context()))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// UpdateMe changes the session member's display name and optionally password.
// PUT /api/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	user, err := h.Members.UpdateProfile(r.Context(), SessionUser(r.Context()), members.ProfileUpdate{
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// ListUsers returns every member.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Members.List(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPENSE ENDPOINTS
// =============================================================================

// SubmitExpense records an expense paid by the session user.
// POST /api/expenses
func (h *Handler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	var req SubmitExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	expenseType := ledger.ExpenseType(req.Type)
	typeLabel := "invalid"
	if expenseType.Valid() {
		typeLabel = req.Type
	}

	participants := make([]ledger.UserID, len(req.ParticipantIDs))
	for i, id := range req.ParticipantIDs {
		participants[i] = ledger.UserID(id)
	}

	d, err := h.Ledger.SubmitExpense(r.Context(), ledger.ExpenseRequest{
		Type:         expenseType,
		Payer:        SessionUser(r.Context()),
		Amount:       req.Amount,
		Description:  req.Description,
		Participants: participants,
		SplitAll:     req.SplitAll,
	})
	if err != nil {
		h.Metrics.observeExpense(typeLabel, outcomeOf(err))
		h.writeLedgerError(w, err)
		return
	}
	h.Metrics.observeExpense(typeLabel, "recorded")

	writeJSON(w, http.StatusCreated, ExpenseResponse{
		Expense:    toExpenseDTO(d.Expense),
		Debts:      toDebtRecordDTOs(d.Debts),
		PayerShare: ledger.PayerShare(d),
	})
}

// ListExpenses returns every expense, newest first.
// GET /api/expenses
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Ledger.Expenses(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = toExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// SubmitPayment records that debtor_id paid the session user. Only the
// creditor can confirm money received; creditor_id may be omitted and must
// otherwise equal the session user.
// POST /api/payments
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	session := SessionUser(r.Context())
	creditor := ledger.UserID(req.CreditorID)
	if creditor == "" {
		creditor = session
	}
	if creditor != session {
		h.Metrics.observePayment("rejected")
		writeError(w, http.StatusForbidden, "Only the creditor can record a payment", nil)
		return
	}
	debtor := ledger.UserID(req.DebtorID)
	if debtor == "" {
		h.Metrics.observePayment("rejected")
		writeError(w, http.StatusBadRequest, "Validation failed",
			&ledger.ValidationError{Field: "debtor_id", Message: "debtor_id is required"})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}

	result, err := h.Ledger.SubmitPayment(r.Context(), ledger.PaymentRequest{
		Creditor:       creditor,
		Debtor:         debtor,
		Amount:         req.Amount,
		Full:           req.Full,
		Description:    req.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		h.Metrics.observePayment(outcomeOf(err))
		h.writeLedgerError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		h.Metrics.observePayment("replayed")
	} else {
		h.Metrics.observePayment("recorded")
	}
	writeJSON(w, status, toPaymentResponse(result))
}

// =============================================================================
// DEBT ENDPOINTS
// =============================================================================

// ListDebts returns debt records newest first.
// GET /api/debts?status=active|paid&scope=me|all
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	var filter ledger.DebtFilter
	switch status := ledger.DebtStatus(r.URL.Query().Get("status")); status {
	case "", ledger.StatusActive, ledger.StatusPaid:
		filter.Status = status
	default:
		writeError(w, http.StatusBadRequest, "Validation failed",
			&ledger.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)})
		return
	}

	all, ok := parseScope(w, r)
	if !ok {
		return
	}
	if !all {
		filter.Involves = SessionUser(r.Context())
	}

	records, err := h.Ledger.DebtRecords(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtRecordDTOs(records))
}

// OwedToMe returns active debts owed to the session user, grouped by debtor.
// GET /api/debts/owed-to-me
func (h *Handler) OwedToMe(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Ledger.OwedToMe(r.Context(), SessionUser(r.Context()))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCounterpartyDTOs(groups))
}

// IOwe returns active debts the session user owes, grouped by creditor.
// GET /api/debts/i-owe
func (h *Handler) IOwe(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Ledger.IOwe(r.Context(), SessionUser(r.Context()))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCounterpartyDTOs(groups))
}

// Outstanding returns what debtor owes creditor right now.
// GET /api/debts/outstanding?creditor=&debtor=
func (h *Handler) Outstanding(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	creditor, debtor := ledger.UserID(q.Get("creditor")), ledger.UserID(q.Get("debtor"))
	if creditor == "" || debtor == "" {
		writeError(w, http.StatusBadRequest, "Validation failed",
			&ledger.ValidationError{Message: "creditor and debtor are required"})
		return
	}

	amount, err := h.Ledger.Outstanding(r.Context(), creditor, debtor)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OutstandingDTO{
		CreditorID:  string(creditor),
		DebtorID:    string(debtor),
		Outstanding: amount,
	})
}

// Summary returns the session user's balance in both directions.
// GET /api/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Ledger.Summary(r.Context(), SessionUser(r.Context()))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		UserID:        string(s.UserID),
		TotalOwedToMe: s.TotalOwedToMe,
		TotalIOwe:     s.TotalIOwe,
		Net:           s.Net,
		OwedToMe:      toCounterpartyDTOs(s.OwedToMe),
		IOwe:          toCounterpartyDTOs(s.IOwe),
	})
}

// Timeline merges expenses and payments newest first.
// GET /api/timeline?scope=me|all
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	all, ok := parseScope(w, r)
	if !ok {
		return
	}
	var forUser ledger.UserID
	if !all {
		forUser = SessionUser(r.Context())
	}

	entries, err := h.Ledger.Timeline(r.Context(), forUser)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineDTOs(entries))
}

// parseScope reads ?scope=me|all. It writes a 400 and returns ok=false for
// anything else.
func parseScope(w http.ResponseWriter, r *http.Request) (all bool, ok bool) {
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "me":
		return false, true
	case "all":
		return true, true
	default:
		writeError(w, http.StatusBadRequest, "Validation failed",
			&ledger.ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope %q", scope)})
		return false, false
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// writeLedgerError maps ledger errors onto HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	var exceeds *ledger.ExceedsOutstandingError
	switch {
	case errors.As(err, &exceeds):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Payment exceeds outstanding debt",
			Details: map[string]string{
				"message":     exceeds.Error(),
				"outstanding": exceeds.Outstanding.String(),
				"requested":   exceeds.Requested.String(),
			},
		})
	case errors.Is(err, ledger.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "Debt was modified concurrently, try again", err)
	case errors.Is(err, ledger.ErrStoreOperation):
		h.Log.Error("store operation failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Could not save, nothing was changed. Try again", nil)
	default:
		h.Log.Error("unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// outcomeOf labels a failed mutation for metrics.
func outcomeOf(err error) string {
	switch {
	case ledger.IsClientError(err), ledger.IsNotFound(err):
		return "rejected"
	case ledger.IsRetryable(err):
		return "conflict"
	default:
		return "failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
