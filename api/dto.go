/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  ledger's domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Amounts are decimal strings in responses ("25000"). Requests accept either
  a JSON string or a JSON number.

TYPES:
  Session:   LoginRequest, LoginResponse, UserDTO, UpdateProfileRequest
  Expense:   SubmitExpenseRequest, ExpenseDTO, ExpenseResponse
  Debt:      DebtRecordDTO, CounterpartyDTO, SummaryDTO, OutstandingDTO
  Payment:   SubmitPaymentRequest, PaymentDTO, PaymentResponse
  Timeline:  TimelineEntryDTO
  Stream:    SnapshotDTO
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// SESSION
// =============================================================================

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserDTO   `json:"user"`
}

type UserDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
	Password    string `json:"password,omitempty"`
}

// =============================================================================
// EXPENSES
// =============================================================================

type SubmitExpenseRequest struct {
	Type           string          `json:"type"` // "split" or "buyfor"
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	ParticipantIDs []string        `json:"participant_ids"`
	SplitAll       bool            `json:"split_all,omitempty"`
}

type ExpenseDTO struct {
	ID             string          `json:"id"`
	CreatedBy      string          `json:"created_by"`
	CreatedByName  string          `json:"created_by_name"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	ParticipantIDs []string        `json:"participant_ids"`
	SplitAmount    decimal.Decimal `json:"split_amount"`
	Type           string          `json:"type"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ExpenseResponse struct {
	Expense    ExpenseDTO      `json:"expense"`
	Debts      []DebtRecordDTO `json:"debts"`
	PayerShare decimal.Decimal `json:"payer_share"`
}

// =============================================================================
// DEBTS
// =============================================================================

type DebtRecordDTO struct {
	ID           string          `json:"id"`
	CreditorID   string          `json:"creditor_id"`
	CreditorName string          `json:"creditor_name"`
	DebtorID     string          `json:"debtor_id"`
	DebtorName   string          `json:"debtor_name"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	ExpenseID    string          `json:"expense_id,omitempty"`
	ExpenseType  string          `json:"expense_type,omitempty"`
	Status       string          `json:"status"`
	ParentID     string          `json:"parent_id,omitempty"`
	ClosedBy     string          `json:"closed_by_payment,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
}

// CounterpartyDTO is one row of the owed-to-me or i-owe view.
type CounterpartyDTO struct {
	UserID  string          `json:"user_id"`
	Name    string          `json:"name"`
	Total   decimal.Decimal `json:"total"`
	Records []DebtRecordDTO `json:"records"`
}

type SummaryDTO struct {
	UserID        string            `json:"user_id"`
	TotalOwedToMe decimal.Decimal   `json:"total_owed_to_me"`
	TotalIOwe     decimal.Decimal   `json:"total_i_owe"`
	Net           decimal.Decimal   `json:"net"`
	OwedToMe      []CounterpartyDTO `json:"owed_to_me"`
	IOwe          []CounterpartyDTO `json:"i_owe"`
}

type OutstandingDTO struct {
	CreditorID  string          `json:"creditor_id"`
	DebtorID    string          `json:"debtor_id"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type SubmitPaymentRequest struct {
	CreditorID     string          `json:"creditor_id"`
	DebtorID       string          `json:"debtor_id"`
	Amount         decimal.Decimal `json:"amount"`
	Full           bool            `json:"full,omitempty"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type PaymentDTO struct {
	ID             string          `json:"id"`
	PaidBy         string          `json:"paid_by"`
	PaidByName     string          `json:"paid_by_name"`
	PaidTo         string          `json:"paid_to"`
	PaidToName     string          `json:"paid_to_name"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	DebtRecordID   string          `json:"debt_record_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ClosureDTO describes what a payment did to one record.
type ClosureDTO struct {
	RecordID    string          `json:"record_id"`
	Action      string          `json:"action"`
	Applied     decimal.Decimal `json:"applied"`
	RemainderID string          `json:"remainder_id,omitempty"`
	Remainder   decimal.Decimal `json:"remainder"`
}

type PaymentResponse struct {
	Payment   PaymentDTO      `json:"payment"`
	Replayed  bool            `json:"replayed"`
	Closures  []ClosureDTO    `json:"closures,omitempty"`
	Remaining decimal.Decimal `json:"remaining"`
}

// =============================================================================
// TIMELINE AND STREAM
// =============================================================================

type TimelineEntryDTO struct {
	Kind      string      `json:"kind"` // "expense" or "payment"
	CreatedAt time.Time   `json:"created_at"`
	Expense   *ExpenseDTO `json:"expense,omitempty"`
	Payment   *PaymentDTO `json:"payment,omitempty"`
}

type SnapshotDTO struct {
	Expenses    []ExpenseDTO    `json:"expenses"`
	DebtRecords []DebtRecordDTO `json:"debt_records"`
	Payments    []PaymentDTO    `json:"payments"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{ID: string(u.ID), DisplayName: u.Name()}
}

func toExpenseDTO(e ledger.Expense) ExpenseDTO {
	ids := make([]string, len(e.Participants))
	for i, p := range e.Participants {
		ids[i] = string(p)
	}
	return ExpenseDTO{
		ID:             string(e.ID),
		CreatedBy:      string(e.CreatedBy),
		CreatedByName:  e.CreatedByName,
		Amount:         e.Amount,
		Description:    e.Description,
		ParticipantIDs: ids,
		SplitAmount:    e.SplitAmount,
		Type:           string(e.Type),
		CreatedAt:      e.CreatedAt,
	}
}

func toDebtRecordDTO(r ledger.DebtRecord) DebtRecordDTO {
	return DebtRecordDTO{
		ID:           string(r.ID),
		CreditorID:   string(r.Creditor),
		CreditorName: r.CreditorName,
		DebtorID:     string(r.Debtor),
		DebtorName:   r.DebtorName,
		Amount:       r.Amount,
		Description:  r.Description,
		ExpenseID:    string(r.ExpenseID),
		ExpenseType:  string(r.ExpenseType),
		Status:       string(r.Status),
		ParentID:     string(r.ParentID),
		ClosedBy:     string(r.ClosedBy),
		CreatedAt:    r.CreatedAt,
		PaidAt:       r.PaidAt,
	}
}

func toDebtRecordDTOs(records []ledger.DebtRecord) []DebtRecordDTO {
	out := make([]DebtRecordDTO, len(records))
	for i, r := range records {
		out[i] = toDebtRecordDTO(r)
	}
	return out
}

func toCounterpartyDTOs(groups []ledger.CounterpartyTotal) []CounterpartyDTO {
	out := make([]CounterpartyDTO, len(groups))
	for i, g := range groups {
		out[i] = CounterpartyDTO{
			UserID:  string(g.UserID),
			Name:    g.Name,
			Total:   g.Total,
			Records: toDebtRecordDTOs(g.Records),
		}
	}
	return out
}

func toPaymentDTO(p ledger.DebtPayment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		PaidBy:         string(p.PaidBy),
		PaidByName:     p.PaidByName,
		PaidTo:         string(p.PaidTo),
		PaidToName:     p.PaidToName,
		Amount:         p.Amount,
		Description:    p.Description,
		DebtRecordID:   string(p.DebtRecordID),
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.CreatedAt,
	}
}

func toPaymentResponse(res *ledger.SettlementResult) PaymentResponse {
	resp := PaymentResponse{
		Payment:   toPaymentDTO(res.Payment),
		Replayed:  res.Replayed,
		Remaining: decimal.Zero,
	}
	if res.Plan == nil {
		return resp
	}
	resp.Remaining = res.Plan.Remaining()
	for _, c := range res.Plan.Closures {
		dto := ClosureDTO{
			RecordID:  string(c.RecordID),
			Action:    string(c.Action),
			Applied:   c.Applied,
			Remainder: decimal.Zero,
		}
		if c.Remainder != nil {
			dto.RemainderID = string(c.Remainder.ID)
			dto.Remainder = c.Remainder.Amount
		}
		resp.Closures = append(resp.Closures, dto)
	}
	return resp
}

func toTimelineDTOs(entries []ledger.TimelineEntry) []TimelineEntryDTO {
	out := make([]TimelineEntryDTO, len(entries))
	for i, e := range entries {
		dto := TimelineEntryDTO{Kind: string(e.Kind), CreatedAt: e.CreatedAt}
		if e.Expense != nil {
			x := toExpenseDTO(*e.Expense)
			dto.Expense = &x
		}
		if e.Payment != nil {
			p := toPaymentDTO(*e.Payment)
			dto.Payment = &p
		}
		out[i] = dto
	}
	return out
}

func toSnapshotDTO(s ledger.Snapshot) SnapshotDTO {
	dto := SnapshotDTO{
		Expenses:    make([]ExpenseDTO, len(s.Expenses)),
		DebtRecords: toDebtRecordDTOs(s.DebtRecords),
		Payments:    make([]PaymentDTO, len(s.Payments)),
	}
	for i, e := range s.Expenses {
		dto.Expenses[i] = toExpenseDTO(e)
	}
	for i, p := range s.Payments {
		dto.Payments[i] = toPaymentDTO(p)
	}
	return dto
}
