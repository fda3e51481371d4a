package devserver

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"opus/internal/util"
	"opus/pkg/domain"
)

type createPayoutRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Destination string `json:"destination"`
}

type payoutResponse struct {
	Payout domain.Payout `json:"payout"`
	Wallet domain.Wallet `json:"wallet"`
}

// wallet returns the user's wallet, or a fresh empty one.
func (s *Server) wallet(r *http.Request, userID string) (domain.Wallet, error) {
	w, err := getDoc[domain.Wallet](r.Context(), s.store, kindWallet, userID)
	if errors.Is(err, ErrNotFound) {
		return domain.Wallet{
			WalletAccountID: "wa_" + userID,
			UserID:          userID,
			Currency:        defaultCurrency,
		}, nil
	}
	return w, err
}

func (s *Server) saveWallet(r *http.Request, w domain.Wallet) error {
	return putDoc(contextWithoutCancel(r), s.store, kindWallet, w.UserID, index{OwnerID: w.UserID}, w)
}

func (s *Server) saveTransaction(r *http.Request, userID string, tx domain.WalletTransaction) error {
	return putDoc(contextWithoutCancel(r), s.store, kindTransaction, tx.ID, index{
		OwnerID:   userID,
		Key:       tx.ReferenceID,
		Status:    string(tx.Status),
		CreatedAt: tx.CreatedAt,
	}, tx)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request, user domain.User) {
	wallet, err := s.wallet(r, user.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, offset, ok := pageParams(w, r, 20, 100)
	if !ok {
		return
	}
	txs, err := findDocs[domain.WalletTransaction](r.Context(), s.store, kindTransaction, Filter{OwnerID: user.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	slices.Reverse(txs)
	writeJSON(w, http.StatusOK, newList(txs, limit, offset))
}

// handleCreatePayout debits the available balance immediately; the payout
// itself stays pending.
func (s *Server) handleCreatePayout(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createPayoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "amount_cents must be positive")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, err := s.wallet(r, user.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if wallet.AvailableCents < req.AmountCents {
		writeError(w, http.StatusConflict, "insufficient balance")
		return
	}
	now := s.clock()
	payout := domain.Payout{
		ID:          util.NewID(),
		AmountCents: req.AmountCents,
		Currency:    wallet.Currency,
		Status:      domain.PaymentPending,
		Destination: strings.TrimSpace(req.Destination),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := putDoc(contextWithoutCancel(r), s.store, kindPayout, payout.ID, index{OwnerID: user.ID, Status: string(payout.Status), CreatedAt: now}, payout); err != nil {
		s.internalError(w, r, err)
		return
	}
	wallet.AvailableCents -= req.AmountCents
	if err := s.saveWallet(r, wallet); err != nil {
		s.internalError(w, r, err)
		return
	}
	err = s.saveTransaction(r, user.ID, domain.WalletTransaction{
		ID:            util.NewID(),
		Direction:     "debit",
		Kind:          "payout",
		AmountCents:   req.AmountCents,
		Currency:      wallet.Currency,
		Status:        domain.PaymentPending,
		ReferenceType: "payout",
		ReferenceID:   payout.ID,
		Description:   "Saque",
		CreatedAt:     now,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payoutResponse{Payout: payout, Wallet: wallet})
}

// handleSettlePayment moves a pending payment into the provider's available
// balance and completes the job.
func (s *Server) handleSettlePayment(w http.ResponseWriter, r *http.Request, _ domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, err := getDoc[paymentRecord](r.Context(), s.store, kindPayment, r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if payment.Status != domain.PaymentPending {
		writeError(w, http.StatusConflict, "payment already settled")
		return
	}
	now := s.clock()
	wallet, err := s.wallet(r, payment.PayeeUserID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	wallet.PendingCents -= payment.AmountCents
	wallet.AvailableCents += payment.AmountCents
	if err := s.saveWallet(r, wallet); err != nil {
		s.internalError(w, r, err)
		return
	}
	txs, err := findDocs[domain.WalletTransaction](r.Context(), s.store, kindTransaction, Filter{OwnerID: payment.PayeeUserID, Key: payment.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	for _, tx := range txs {
		tx.Status = domain.PaymentCompleted
		if err := s.saveTransaction(r, payment.PayeeUserID, tx); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	payment.Status = domain.PaymentCompleted
	payment.UpdatedAt = now
	if err := s.savePayment(r, payment); err != nil {
		s.internalError(w, r, err)
		return
	}
	job, err := getDoc[domain.Job](r.Context(), s.store, kindJob, payment.JobID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	job.Status = domain.JobCompleted
	job.UpdatedAt = now
	if err := s.saveJob(r, job); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutOf(payment))
}
