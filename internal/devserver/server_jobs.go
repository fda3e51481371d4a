package devserver

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"opus/internal/util"
	"opus/pkg/domain"
)

const defaultCurrency = "BRL"

type createJobRequest struct {
	CategoryID        int        `json:"category_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	AddressText       string     `json:"address_text"`
	Lat               float64    `json:"lat"`
	Lng               float64    `json:"lng"`
	PreferredDatetime *time.Time `json:"preferred_datetime"`
	PhotoURLs         []string   `json:"photo_urls"`
}

type createOfferRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Message     string `json:"message"`
}

type checkoutRequest struct {
	JobID   string `json:"job_id"`
	OfferID string `json:"offer_id"`
}

type paymentRecord struct {
	ID          string               `json:"id"`
	JobID       string               `json:"job_id"`
	OfferID     string               `json:"offer_id"`
	PayerUserID string               `json:"payer_user_id"`
	PayeeUserID string               `json:"payee_user_id"`
	AmountCents int64                `json:"amount_cents"`
	Currency    string               `json:"currency"`
	Status      domain.PaymentStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

var devPaymentProvider = domain.PaymentProvider{ID: "dev", Name: "Dev Payments"}

func (s *Server) saveJob(r *http.Request, job domain.Job) error {
	return putDoc(contextWithoutCancel(r), s.store, kindJob, job.ID, index{
		OwnerID:   job.ConsumerUserID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}, job)
}

func (s *Server) saveOffer(r *http.Request, offer domain.Offer) error {
	return putDoc(contextWithoutCancel(r), s.store, kindOffer, offer.ID, index{
		OwnerID:   offer.JobID,
		Key:       offer.ProviderUserID,
		Status:    string(offer.Status),
		CreatedAt: offer.CreatedAt,
	}, offer)
}

func (s *Server) savePayment(r *http.Request, p paymentRecord) error {
	return putDoc(contextWithoutCancel(r), s.store, kindPayment, p.ID, index{
		OwnerID:   p.JobID,
		Key:       p.PayeeUserID,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
	}, p)
}

// ownJob loads a job and checks the caller posted it.
func (s *Server) ownJob(w http.ResponseWriter, r *http.Request, user domain.User, id string) (domain.Job, bool) {
	job, err := getDoc[domain.Job](r.Context(), s.store, kindJob, id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return domain.Job{}, false
	}
	if job.ConsumerUserID != user.ID {
		writeError(w, http.StatusForbidden, "job belongs to another user")
		return domain.Job{}, false
	}
	return job, true
}

func validStatus(s domain.JobStatus) bool {
	switch s {
	case domain.JobOpen, domain.JobNegotiating, domain.JobAccepted, domain.JobInProgress, domain.JobCompleted, domain.JobCancelled:
		return true
	}
	return false
}

func acceptsOffers(s domain.JobStatus) bool {
	return s == domain.JobOpen || s == domain.JobNegotiating
}

func parseFloatParam(r *http.Request, name string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.URL.Query().Get(name)), 64)
	return v, err == nil
}

// handleListJobs is the public nearby listing. Without a status filter only
// jobs still taking offers are returned.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	lat, okLat := parseFloatParam(r, "lat")
	lng, okLng := parseFloatParam(r, "lng")
	radius, okRadius := parseFloatParam(r, "radius_km")
	if !okLat || !okLng || !okRadius || lat < -90 || lat > 90 || lng < -180 || lng > 180 || radius <= 0 {
		writeError(w, http.StatusBadRequest, "lat, lng and radius_km are required")
		return
	}
	q := r.URL.Query()
	categoryID := 0
	if v := q.Get("category_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid category_id")
			return
		}
		categoryID = n
	}
	status := domain.JobStatus(q.Get("status"))
	if status != "" && !validStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	limit, offset, ok := pageParams(w, r, 20, 100)
	if !ok {
		return
	}

	jobs, err := findDocs[domain.Job](r.Context(), s.store, kindJob, Filter{Status: string(status)})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	matches := make([]domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if status == "" && !acceptsOffers(job.Status) {
			continue
		}
		if categoryID > 0 && job.CategoryID != categoryID {
			continue
		}
		if distanceKm(lat, lng, job.Lat, job.Lng) > radius {
			continue
		}
		matches = append(matches, job)
	}
	slices.Reverse(matches)
	writeJSON(w, http.StatusOK, newList(matches, limit, offset))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := getDoc[domain.Job](r.Context(), s.store, kindJob, r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.AddressText = strings.TrimSpace(req.AddressText)
	switch {
	case req.CategoryID <= 0:
		writeError(w, http.StatusBadRequest, "category_id is required")
		return
	case req.Title == "" || req.Description == "" || req.AddressText == "":
		writeError(w, http.StatusBadRequest, "title, description and address_text are required")
		return
	case req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180:
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	now := s.clock()
	job := domain.Job{
		ID:                util.NewID(),
		ConsumerUserID:    user.ID,
		CategoryID:        req.CategoryID,
		Title:             req.Title,
		Description:       req.Description,
		AddressText:       req.AddressText,
		Lat:               req.Lat,
		Lng:               req.Lng,
		PreferredDatetime: req.PreferredDatetime,
		Status:            domain.JobOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, u := range req.PhotoURLs {
		if u = strings.TrimSpace(u); u != "" {
			job.Photos = append(job.Photos, domain.Photo{ID: util.NewID(), URL: u})
		}
	}
	if len(job.Photos) > 0 {
		cover := job.Photos[0]
		job.CoverPhoto = &cover
	}
	if err := s.saveJob(r, job); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListMyJobs(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, offset, ok := pageParams(w, r, 20, 100)
	if !ok {
		return
	}
	jobs, err := findDocs[domain.Job](r.Context(), s.store, kindJob, Filter{OwnerID: user.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	slices.Reverse(jobs)
	writeJSON(w, http.StatusOK, newList(jobs, limit, offset))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.ownJob(w, r, user, r.PathValue("id"))
	if !ok {
		return
	}
	if job.Status == domain.JobCompleted || job.Status == domain.JobCancelled || job.Status == domain.JobInProgress {
		writeError(w, http.StatusConflict, "job can no longer be cancelled")
		return
	}
	offers, err := findDocs[domain.Offer](r.Context(), s.store, kindOffer, Filter{OwnerID: job.ID, Status: string(domain.OfferPending)})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	now := s.clock()
	for _, o := range offers {
		o.Status = domain.OfferCancelled
		o.UpdatedAt = now
		if err := s.saveOffer(r, o); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	job.Status = domain.JobCancelled
	job.UpdatedAt = now
	if err := s.saveJob(r, job); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobOffers(w http.ResponseWriter, r *http.Request, user domain.User) {
	job, ok := s.ownJob(w, r, user, r.PathValue("id"))
	if !ok {
		return
	}
	offers, err := findDocs[domain.Offer](r.Context(), s.store, kindOffer, Filter{OwnerID: job.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Offer{"items": offers})
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !user.HasRole(domain.RoleProvider) {
		writeError(w, http.StatusForbidden, "provider profile not approved")
		return
	}
	var req createOfferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "amount_cents must be positive")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		writeError(w, http.StatusBadRequest, "currency must be a 3-letter code")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := getDoc[domain.Job](r.Context(), s.store, kindJob, r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	switch {
	case job.ConsumerUserID == user.ID:
		writeError(w, http.StatusForbidden, "cannot make an offer on your own job")
		return
	case !acceptsOffers(job.Status):
		writeError(w, http.StatusConflict, "job is not accepting offers")
		return
	}
	pending, err := findDocs[domain.Offer](r.Context(), s.store, kindOffer, Filter{OwnerID: job.ID, Key: user.ID, Status: string(domain.OfferPending)})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(pending) > 0 {
		writeError(w, http.StatusConflict, "you already have a pending offer on this job")
		return
	}
	now := s.clock()
	offer := domain.Offer{
		ID:             util.NewID(),
		JobID:          job.ID,
		ProviderUserID: user.ID,
		AmountCents:    req.AmountCents,
		Currency:       currency,
		Message:        strings.TrimSpace(req.Message),
		Status:         domain.OfferPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.saveOffer(r, offer); err != nil {
		s.internalError(w, r, err)
		return
	}
	if job.Status == domain.JobOpen {
		job.Status = domain.JobNegotiating
		job.UpdatedAt = now
		if err := s.saveJob(r, job); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, offer)
}

// handleAcceptOffer accepts one offer and rejects its pending siblings.
func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, err := getDoc[domain.Offer](r.Context(), s.store, kindOffer, r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "offer not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	job, ok := s.ownJob(w, r, user, offer.JobID)
	if !ok {
		return
	}
	if offer.Status != domain.OfferPending || !acceptsOffers(job.Status) {
		writeError(w, http.StatusConflict, "offer can no longer be accepted")
		return
	}
	siblings, err := findDocs[domain.Offer](r.Context(), s.store, kindOffer, Filter{OwnerID: job.ID, Status: string(domain.OfferPending)})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	now := s.clock()
	for _, o := range siblings {
		if o.ID == offer.ID {
			continue
		}
		o.Status = domain.OfferRejected
		o.UpdatedAt = now
		if err := s.saveOffer(r, o); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	offer.Status = domain.OfferAccepted
	offer.UpdatedAt = now
	if err := s.saveOffer(r, offer); err != nil {
		s.internalError(w, r, err)
		return
	}
	job.Status = domain.JobAccepted
	job.UpdatedAt = now
	if err := s.saveJob(r, job); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// handleCheckout records a pending payment for the accepted offer and credits
// the provider's pending balance. The job moves to in_progress.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" || req.OfferID == "" {
		writeError(w, http.StatusBadRequest, "job_id and offer_id are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.ownJob(w, r, user, req.JobID)
	if !ok {
		return
	}
	offer, err := getDoc[domain.Offer](r.Context(), s.store, kindOffer, req.OfferID)
	if errors.Is(err, ErrNotFound) || (err == nil && offer.JobID != job.ID) {
		writeError(w, http.StatusNotFound, "offer not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if offer.Status != domain.OfferAccepted || job.Status != domain.JobAccepted {
		writeError(w, http.StatusConflict, "job is not awaiting payment")
		return
	}
	now := s.clock()
	payment := paymentRecord{
		ID:          util.NewID(),
		JobID:       job.ID,
		OfferID:     offer.ID,
		PayerUserID: user.ID,
		PayeeUserID: offer.ProviderUserID,
		AmountCents: offer.AmountCents,
		Currency:    offer.Currency,
		Status:      domain.PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.savePayment(r, payment); err != nil {
		s.internalError(w, r, err)
		return
	}
	wallet, err := s.wallet(r, offer.ProviderUserID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	wallet.PendingCents += offer.AmountCents
	if err := s.saveWallet(r, wallet); err != nil {
		s.internalError(w, r, err)
		return
	}
	err = s.saveTransaction(r, wallet.UserID, domain.WalletTransaction{
		ID:            util.NewID(),
		Direction:     "credit",
		Kind:          "job_payment",
		AmountCents:   offer.AmountCents,
		Currency:      offer.Currency,
		Status:        domain.PaymentPending,
		ReferenceType: "payment",
		ReferenceID:   payment.ID,
		Description:   "Pagamento: " + job.Title,
		CreatedAt:     now,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	job.Status = domain.JobInProgress
	job.UpdatedAt = now
	if err := s.saveJob(r, job); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutOf(payment))
}

func checkoutOf(p paymentRecord) domain.Checkout {
	return domain.Checkout{
		PaymentID:   p.ID,
		Status:      p.Status,
		CheckoutURL: "opus-dev://checkout/" + p.ID,
		Provider:    devPaymentProvider,
	}
}
