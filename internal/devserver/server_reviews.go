package devserver

import (
	"errors"
	"math"
	"net/http"
	"slices"
	"strings"

	"opus/internal/util"
	"opus/pkg/domain"
)

type createReviewRequest struct {
	JobID     string                 `json:"job_id"`
	Rating    int                    `json:"rating"`
	Comment   string                 `json:"comment"`
	Direction domain.ReviewDirection `json:"direction"`
}

// acceptedProvider returns the provider whose offer on job was accepted.
func (s *Server) acceptedProvider(r *http.Request, jobID string) (string, bool, error) {
	offers, err := findDocs[domain.Offer](r.Context(), s.store, kindOffer, Filter{OwnerID: jobID, Status: string(domain.OfferAccepted)})
	if err != nil || len(offers) == 0 {
		return "", false, err
	}
	return offers[0].ProviderUserID, true, nil
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch {
	case req.JobID == "":
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	case req.Rating < 1 || req.Rating > 5:
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	case req.Direction != domain.ConsumerToProvider && req.Direction != domain.ProviderToConsumer:
		writeError(w, http.StatusBadRequest, "invalid direction")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := getDoc[domain.Job](r.Context(), s.store, kindJob, req.JobID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	providerID, ok, err := s.acceptedProvider(r, job.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "job has no accepted offer")
		return
	}
	var reviewee string
	switch req.Direction {
	case domain.ConsumerToProvider:
		if user.ID != job.ConsumerUserID {
			writeError(w, http.StatusForbidden, "only the job owner can review the provider")
			return
		}
		reviewee = providerID
	case domain.ProviderToConsumer:
		if user.ID != providerID {
			writeError(w, http.StatusForbidden, "only the hired provider can review the consumer")
			return
		}
		reviewee = job.ConsumerUserID
	}
	dupKey := job.ID + "|" + user.ID
	existing, err := findDocs[domain.Review](r.Context(), s.store, kindReview, Filter{Key: dupKey})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(existing) > 0 {
		writeError(w, http.StatusConflict, "job already reviewed")
		return
	}
	now := s.clock()
	review := domain.Review{
		ID:             util.NewID(),
		JobID:          job.ID,
		ReviewerUserID: user.ID,
		RevieweeUserID: reviewee,
		Direction:      req.Direction,
		Rating:         req.Rating,
		Comment:        strings.TrimSpace(req.Comment),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = putDoc(contextWithoutCancel(r), s.store, kindReview, review.ID, index{
		OwnerID:   reviewee,
		Key:       dupKey,
		Status:    string(review.Direction),
		CreatedAt: now,
	}, review)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (s *Server) reviewsFor(w http.ResponseWriter, r *http.Request) ([]domain.Review, domain.ReviewDirection, bool) {
	direction := domain.ReviewDirection(r.URL.Query().Get("direction"))
	if direction != "" && direction != domain.ConsumerToProvider && direction != domain.ProviderToConsumer {
		writeError(w, http.StatusBadRequest, "invalid direction")
		return nil, "", false
	}
	reviews, err := findDocs[domain.Review](r.Context(), s.store, kindReview, Filter{OwnerID: r.PathValue("id"), Status: string(direction)})
	if err != nil {
		s.internalError(w, r, err)
		return nil, "", false
	}
	return reviews, direction, true
}

func (s *Server) handleListUserReviews(w http.ResponseWriter, r *http.Request, _ domain.User) {
	limit, offset, ok := pageParams(w, r, 20, 100)
	if !ok {
		return
	}
	reviews, _, ok := s.reviewsFor(w, r)
	if !ok {
		return
	}
	slices.Reverse(reviews)
	writeJSON(w, http.StatusOK, newList(reviews, limit, offset))
}

func (s *Server) handleReviewSummary(w http.ResponseWriter, r *http.Request, _ domain.User) {
	reviews, direction, ok := s.reviewsFor(w, r)
	if !ok {
		return
	}
	summary := domain.ReviewSummary{RevieweeUserID: r.PathValue("id"), Direction: direction, Count: len(reviews)}
	if len(reviews) > 0 {
		total := 0
		for _, rv := range reviews {
			total += rv.Rating
		}
		summary.AvgRating = math.Round(float64(total)/float64(len(reviews))*100) / 100
	}
	writeJSON(w, http.StatusOK, summary)
}
