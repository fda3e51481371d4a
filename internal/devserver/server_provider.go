package devserver

import (
	"errors"
	"net/http"
	"strings"

	"opus/internal/util"
	"opus/pkg/domain"
)

type onboardingRequest struct {
	FullName        string                    `json:"full_name"`
	DocumentNumber  string                    `json:"document_number"`
	BirthDate       string                    `json:"birth_date"`
	Phone           string                    `json:"phone"`
	AddressText     string                    `json:"address_text"`
	ServiceRadiusKm float64                   `json:"service_radius_km"`
	Bio             string                    `json:"bio"`
	CategoryIDs     []int                     `json:"category_ids"`
	Documents       []domain.ProviderDocument `json:"documents"`
}

type reviewNotesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) saveProvider(r *http.Request, p domain.ProviderProfile) error {
	return putDoc(contextWithoutCancel(r), s.store, kindProvider, p.UserID, index{
		OwnerID:   p.UserID,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
	}, p)
}

// handleProviderOnboarding submits or resubmits the caller's provider profile
// for review. An approved profile cannot be resubmitted.
func (s *Server) handleProviderOnboarding(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req onboardingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.DocumentNumber = strings.TrimSpace(req.DocumentNumber)
	switch {
	case req.FullName == "" || req.DocumentNumber == "":
		writeError(w, http.StatusBadRequest, "full_name and document_number are required")
		return
	case req.ServiceRadiusKm <= 0:
		writeError(w, http.StatusBadRequest, "service_radius_km must be positive")
		return
	case len(req.CategoryIDs) == 0:
		writeError(w, http.StatusBadRequest, "at least one category is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	profile, err := getDoc[domain.ProviderProfile](r.Context(), s.store, kindProvider, user.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		profile = domain.ProviderProfile{ID: util.NewID(), UserID: user.ID, CreatedAt: now}
	case err != nil:
		s.internalError(w, r, err)
		return
	case profile.Status == domain.ProviderApproved:
		writeError(w, http.StatusConflict, "provider profile already approved")
		return
	}
	profile.Status = domain.ProviderPending
	profile.FullName = req.FullName
	profile.DocumentNumber = req.DocumentNumber
	profile.BirthDate = strings.TrimSpace(req.BirthDate)
	profile.Phone = strings.TrimSpace(req.Phone)
	profile.AddressText = strings.TrimSpace(req.AddressText)
	profile.ServiceRadiusKm = req.ServiceRadiusKm
	profile.Bio = strings.TrimSpace(req.Bio)
	profile.CategoryIDs = req.CategoryIDs
	profile.Documents = req.Documents
	profile.SubmittedAt = &now
	profile.ReviewedAt = nil
	profile.ReviewNotes = ""
	profile.UpdatedAt = now
	if err := s.saveProvider(r, profile); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleProviderMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	profile, err := getDoc[domain.ProviderProfile](r.Context(), s.store, kindProvider, user.ID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "provider profile not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handlePendingProviders(w http.ResponseWriter, r *http.Request, _ domain.User) {
	limit, offset, ok := pageParams(w, r, 20, 100)
	if !ok {
		return
	}
	profiles, err := findDocs[domain.ProviderProfile](r.Context(), s.store, kindProvider, Filter{Status: string(domain.ProviderPending)})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(profiles, limit, offset))
}

func (s *Server) handleApproveProvider(w http.ResponseWriter, r *http.Request, admin domain.User) {
	s.reviewProvider(w, r, admin, domain.ProviderApproved)
}

func (s *Server) handleRejectProvider(w http.ResponseWriter, r *http.Request, admin domain.User) {
	s.reviewProvider(w, r, admin, domain.ProviderRejected)
}

// reviewProvider decides a pending profile. Approval grants the provider role.
func (s *Server) reviewProvider(w http.ResponseWriter, r *http.Request, admin domain.User, decision domain.ProviderStatus) {
	var req reviewNotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userID := r.PathValue("id")
	profile, err := getDoc[domain.ProviderProfile](r.Context(), s.store, kindProvider, userID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "provider profile not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if profile.Status != domain.ProviderPending {
		writeError(w, http.StatusConflict, "provider profile is not pending review")
		return
	}
	now := s.clock()
	profile.Status = decision
	profile.ReviewedAt = &now
	profile.ReviewNotes = strings.TrimSpace(req.Notes)
	profile.UpdatedAt = now
	if err := s.saveProvider(r, profile); err != nil {
		s.internalError(w, r, err)
		return
	}
	if decision == domain.ProviderApproved {
		rec, err := getDoc[userRecord](r.Context(), s.store, kindUser, userID)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if !rec.User.HasRole(domain.RoleProvider) {
			rec.User.Roles = append(rec.User.Roles, roleProvider)
			if err := s.saveUser(r, rec); err != nil {
				s.internalError(w, r, err)
				return
			}
		}
	}
	s.audit(r, "devserver.provider.review", "success", "admin_id", admin.ID, "user_id", userID, "decision", string(decision))
	writeJSON(w, http.StatusOK, profile)
}
