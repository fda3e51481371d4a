package devserver

import (
	"net/http"
	"strings"
	"time"

	"opus/internal/util"
	"opus/pkg/auth"
	"opus/pkg/domain"
)

type userRecord struct {
	User         domain.User `json:"user"`
	PasswordHash string      `json:"password_hash"`
	CreatedAt    time.Time   `json:"created_at"`
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type authResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

type updateMeRequest struct {
	Name          *string      `json:"name"`
	PhotoURL      *string      `json:"photo_url"`
	PreferredMode *domain.Mode `json:"preferred_mode"`
}

var (
	roleConsumer = domain.Role{ID: 1, Name: domain.RoleConsumer}
	roleProvider = domain.Role{ID: 2, Name: domain.RoleProvider}
	roleAdmin    = domain.Role{ID: 3, Name: domain.RoleAdmin}
)

func (s *Server) saveUser(r *http.Request, rec userRecord) error {
	return putDoc(contextWithoutCancel(r), s.store, kindUser, rec.User.ID, index{
		Key:       normalizeEmail(rec.User.Email),
		CreatedAt: rec.CreatedAt,
	}, rec)
}

func (s *Server) userByEmail(r *http.Request, email string) (userRecord, bool, error) {
	recs, err := findDocs[userRecord](r.Context(), s.store, kindUser, Filter{Key: normalizeEmail(email)})
	if err != nil || len(recs) == 0 {
		return userRecord{}, false, err
	}
	return recs[0], true, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter, "too many register attempts") {
		s.audit(r, "devserver.register", "rate_limited")
		return
	}
	var req authRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists, err := s.userByEmail(r, email); err != nil {
		s.internalError(w, r, err)
		return
	} else if exists {
		s.audit(r, "devserver.register", "fail", "reason", "email_taken")
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	user := domain.User{
		ID:            util.NewID(),
		Email:         email,
		Name:          name,
		Phone:         strings.TrimSpace(req.Phone),
		PreferredMode: domain.ModeConsumer,
		Roles:         []domain.Role{roleConsumer},
	}
	if _, ok := s.admins[email]; ok {
		user.Roles = append(user.Roles, roleAdmin)
	}
	if err := s.saveUser(r, userRecord{User: user, PasswordHash: hash, CreatedAt: s.clock()}); err != nil {
		s.internalError(w, r, err)
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.audit(r, "devserver.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "devserver.login", "rate_limited")
		return
	}
	var req authRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, ok, err := s.userByEmail(r, req.Email)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !ok || !auth.CheckPassword(req.Password, rec.PasswordHash) {
		s.audit(r, "devserver.login", "fail", "reason", "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.tokens.Issue(rec.User.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.audit(r, "devserver.login", "success", "user_id", rec.User.ID)
	writeJSON(w, http.StatusOK, authResponse{User: rec.User, Token: token})
}

func (s *Server) handleAuthMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, map[string]domain.User{"user": user})
}

func (s *Server) handleGetMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req updateMeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PreferredMode != nil && *req.PreferredMode != domain.ModeConsumer && *req.PreferredMode != domain.ModeProvider {
		writeError(w, http.StatusBadRequest, "preferred_mode must be consumer or provider")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := getDoc[userRecord](r.Context(), s.store, kindUser, user.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		rec.User.Name = name
	}
	if req.PhotoURL != nil {
		rec.User.PhotoURL = strings.TrimSpace(*req.PhotoURL)
	}
	if req.PreferredMode != nil {
		rec.User.PreferredMode = *req.PreferredMode
	}
	if err := s.saveUser(r, rec); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.User)
}
