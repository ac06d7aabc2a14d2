package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"therabook/affiliation"
	"therabook/auth"
	"therabook/booking"
	"therabook/notify"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "role"
)

// Service interfaces consumed by the handlers; production wiring passes the
// concrete services, tests pass stubs.
type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type bookingService interface {
	Create(ctx context.Context, params booking.CreateParams) (booking.Booking, error)
	GetByID(ctx context.Context, id, actorID string) (booking.Booking, error)
	List(ctx context.Context, filters booking.Filters) (booking.ListResult, error)
	ApplyPartyStatus(ctx context.Context, params booking.ApplyParams) (booking.ApplyResult, error)
}

type affiliationService interface {
	GetStore(ctx context.Context, id string) (affiliation.Store, error)
	ActiveStore(ctx context.Context, therapistID string) (*affiliation.Store, error)
}

type notificationStore interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]notify.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// Server bundles the services behind the HTTP API.
type Server struct {
	authService         authService
	bookingService      bookingService
	affiliationService  affiliationService
	notificationService notificationStore
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/bookings", s.requireAuth(s.handleBookings))
	mux.HandleFunc("/api/bookings/", s.requireAuth(s.handleBookingDetail))
	mux.HandleFunc("/api/notifications", s.requireAuth(s.handleNotifications))
	mux.HandleFunc("/api/notifications/", s.requireAuth(s.handleNotificationDetail))
	mux.HandleFunc("/api/stores/", s.requireAuth(s.handleStore))
	return mux
}

// requireAuth verifies the bearer token and stashes user id and role in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User: userResponse{
			ID:       result.User.ID,
			Email:    result.User.Email,
			FullName: result.User.FullName,
			Role:     string(result.User.Role),
		},
	})
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBookings(w, r)
	case http.MethodPost:
		s.handleCreateBooking(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)

	filters := booking.Filters{
		Status:    booking.Status(r.URL.Query().Get("status")),
		SortKey:   r.URL.Query().Get("sort"),
		SortOrder: r.URL.Query().Get("order"),
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil {
		filters.PageSize = size
	}

	// Scope the listing to the caller's own side of the marketplace.
	switch role {
	case auth.RoleTherapist:
		filters.TherapistID = userID
	case auth.RoleStoreOperator:
		storeID := r.URL.Query().Get("storeId")
		if storeID == "" {
			writeError(w, http.StatusBadRequest, "storeId is required for store operators")
			return
		}
		filters.StoreID = storeID
	default:
		filters.CustomerID = userID
	}

	result, err := s.bookingService.List(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list bookings failed")
		return
	}

	items := make([]bookingResponse, 0, len(result.Items))
	for _, b := range result.Items {
		items = append(items, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, listResponse[bookingResponse]{Items: items, Total: result.Total})
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleCustomer {
		writeError(w, http.StatusForbidden, "only customers create bookings")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduledAt must be RFC3339")
		return
	}

	params := booking.CreateParams{
		CustomerID:  userID,
		TherapistID: req.TherapistID,
		ServiceName: req.ServiceName,
		Location:    req.Location,
		PriceCents:  req.PriceCents,
		ScheduledAt: scheduledAt,
	}

	// The active affiliation at creation time pins the store side; absence
	// leaves the booking solo.
	if s.affiliationService != nil && req.TherapistID != "" {
		store, err := s.affiliationService.ActiveStore(r.Context(), req.TherapistID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "resolve affiliation failed")
			return
		}
		if store != nil {
			params.StoreID = &store.ID
		}
	}

	created, err := s.bookingService.Create(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toBookingResponse(created))
}

func (s *Server) handleBookingDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/bookings/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "booking id required")
		return
	}
	bookingID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetBooking(w, r, bookingID)
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPatch:
		s.handleApplyStatus(w, r, bookingID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request, bookingID string) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	b, err := s.bookingService.GetByID(r.Context(), bookingID, userID)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (s *Server) handleApplyStatus(w http.ResponseWriter, r *http.Request, bookingID string) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)

	var party booking.Party
	switch role {
	case auth.RoleTherapist:
		party = booking.PartyTherapist
	case auth.RoleStoreOperator:
		party = booking.PartyStore
	default:
		writeError(w, http.StatusForbidden, "customers cannot change booking status")
		return
	}

	var req applyStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.bookingService.ApplyPartyStatus(r.Context(), booking.ApplyParams{
		BookingID: bookingID,
		ActorID:   userID,
		Party:     party,
		NewStatus: booking.Status(req.Status),
	})
	if err != nil {
		writeBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, applyStatusResponse{
		Booking:         toBookingResponse(result.Booking),
		EffectiveStatus: string(result.EffectiveStatus),
		JustConverged:   result.JustConverged,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}

	notifications, err := s.notificationService.ListForUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list notifications failed")
		return
	}

	items := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, listResponse[notificationResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleNotificationDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "read" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	if err := s.notificationService.MarkRead(r.Context(), userID, parts[0]); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "mark read failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	storeID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/stores/"), "/")
	if storeID == "" {
		writeError(w, http.StatusBadRequest, "store id required")
		return
	}

	store, err := s.affiliationService.GetStore(r.Context(), storeID)
	if err != nil {
		if errors.Is(err, affiliation.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "get store failed")
		return
	}

	writeJSON(w, http.StatusOK, storeResponse{
		ID:        store.ID,
		Name:      store.Name,
		Address:   store.Address,
		Verified:  store.Verified,
		CreatedAt: store.CreatedAt.Format(time.RFC3339),
	})
}

func writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrInvalidParty):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("booking handler error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- wire types ---

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type createBookingRequest struct {
	TherapistID string `json:"therapistId"`
	ServiceName string `json:"serviceName"`
	Location    string `json:"location"`
	PriceCents  int64  `json:"priceCents"`
	ScheduledAt string `json:"scheduledAt"`
}

type applyStatusRequest struct {
	Status string `json:"status"`
}

type applyStatusResponse struct {
	Booking         bookingResponse `json:"booking"`
	EffectiveStatus string          `json:"effectiveStatus"`
	JustConverged   bool            `json:"justConverged"`
}

type bookingResponse struct {
	ID              string  `json:"id"`
	CustomerID      string  `json:"customerId"`
	TherapistID     string  `json:"therapistId"`
	StoreID         *string `json:"storeId,omitempty"`
	TherapistName   string  `json:"therapistName"`
	ServiceName     string  `json:"serviceName"`
	Location        string  `json:"location"`
	PriceCents      int64   `json:"priceCents"`
	ScheduledAt     string  `json:"scheduledAt"`
	TherapistStatus string  `json:"therapistStatus"`
	StoreStatus     string  `json:"storeStatus"`
	EffectiveStatus string  `json:"effectiveStatus"`
	CreatedAt       string  `json:"createdAt"`
}

type notificationResponse struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
	Read    bool           `json:"read"`
	SentAt  string         `json:"sentAt"`
}

type storeResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Verified  bool   `json:"verified"`
	CreatedAt string `json:"createdAt"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func toBookingResponse(b booking.Booking) bookingResponse {
	return bookingResponse{
		ID:              b.ID,
		CustomerID:      b.CustomerID,
		TherapistID:     b.TherapistID,
		StoreID:         b.StoreID,
		TherapistName:   b.TherapistName,
		ServiceName:     b.ServiceName,
		Location:        b.Location,
		PriceCents:      b.PriceCents,
		ScheduledAt:     b.ScheduledAt.Format(time.RFC3339),
		TherapistStatus: string(b.TherapistStatus),
		StoreStatus:     string(b.StoreStatus),
		EffectiveStatus: string(b.StatusPair().Effective()),
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
}

func toNotificationResponse(n notify.Notification) notificationResponse {
	return notificationResponse{
		ID:      n.ID,
		Kind:    n.Kind,
		Title:   n.Title,
		Message: n.Message,
		Payload: n.Payload,
		Read:    n.ReadAt != nil,
		SentAt:  n.SentAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
