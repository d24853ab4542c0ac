package http

import (
	"net/http"
	"strings"

	"kakeibo/internal/core"
)

type cycleRequest struct {
	CardID      string `json:"cardId"`
	ClosingDate string `json:"closingDate"`
}

func (req cycleRequest) pending() core.PendingBillPayment {
	return core.PendingBillPayment{
		CardID:         strings.TrimSpace(req.CardID),
		ClosingDateStr: strings.TrimSpace(req.ClosingDate),
	}
}

type paymentRequest struct {
	Pending  cycleRequest       `json:"pending"`
	Transfer transactionRequest `json:"transfer"`
}

type paymentResponse struct {
	Transaction core.Transaction `json:"transaction"`
	Advanced    bool             `json:"advanced"`
}

type markPaidResponse struct {
	Advanced bool `json:"advanced"`
}

// handleBills lists the unpaid bills of every card, ordered for display.
func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.svc.Billing.UnpaidBills(r.Context(), userID(r))
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(nonNil(bills)).Write(w)
}

func (s *Server) handlePreparePayment(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	p := req.pending()
	draft, err := s.svc.Billing.PreparePayment(r.Context(), userID(r), p.CardID, p.ClosingDateStr)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(draft).Write(w)
}

// handleRecordPayment saves the (possibly edited) payment transfer and
// settles the pending cycle.
func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	transfer, err := req.Transfer.transaction(s.loc)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	tx, advanced, err := s.svc.Billing.RecordPayment(r.Context(), userID(r), req.Pending.pending(), transfer)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(paymentResponse{Transaction: tx, Advanced: advanced}).Write(w)
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	p := req.pending()
	if err := p.Validate(); err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	advanced, err := s.svc.Billing.MarkCycleAsPaid(r.Context(), userID(r), p.CardID, p.ClosingDateStr)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(markPaidResponse{Advanced: advanced}).Write(w)
}
