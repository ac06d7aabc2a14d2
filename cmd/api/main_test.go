package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"therabook/affiliation"
	"therabook/auth"
	"therabook/booking"
	"therabook/notify"
)

type stubBookingService struct {
	created     booking.Booking
	createErr   error
	createdWith booking.CreateParams

	got    booking.Booking
	getErr error

	listResult booking.ListResult
	listErr    error

	applyResult booking.ApplyResult
	applyErr    error
	appliedWith booking.ApplyParams
}

func (s *stubBookingService) Create(_ context.Context, params booking.CreateParams) (booking.Booking, error) {
	s.createdWith = params
	return s.created, s.createErr
}

func (s *stubBookingService) GetByID(_ context.Context, _, _ string) (booking.Booking, error) {
	return s.got, s.getErr
}

func (s *stubBookingService) List(_ context.Context, _ booking.Filters) (booking.ListResult, error) {
	return s.listResult, s.listErr
}

func (s *stubBookingService) ApplyPartyStatus(_ context.Context, params booking.ApplyParams) (booking.ApplyResult, error) {
	s.appliedWith = params
	return s.applyResult, s.applyErr
}

type stubAffiliationService struct {
	store       affiliation.Store
	storeErr    error
	activeStore *affiliation.Store
	activeErr   error
}

func (s *stubAffiliationService) GetStore(_ context.Context, _ string) (affiliation.Store, error) {
	return s.store, s.storeErr
}

func (s *stubAffiliationService) ActiveStore(_ context.Context, _ string) (*affiliation.Store, error) {
	return s.activeStore, s.activeErr
}

type stubNotificationStore struct {
	notifications []notify.Notification
	listErr       error
	markReadErr   error
	markedRead    string
}

func (s *stubNotificationStore) ListForUser(_ context.Context, _ string, _ int) ([]notify.Notification, error) {
	return s.notifications, s.listErr
}

func (s *stubNotificationStore) MarkRead(_ context.Context, _, notificationID string) error {
	s.markedRead = notificationID
	return s.markReadErr
}

type stubAuthService struct {
	userID string
	role   auth.Role
	err    error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return nil, s.err
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{}, s.err
}

func (s *stubAuthService) VerifyToken(_ string) (string, auth.Role, error) {
	return s.userID, s.role, s.err
}

func authedContext(req *http.Request, userID string, role auth.Role) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestHandleApplyStatus_TherapistConfirms(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc := &stubBookingService{
		applyResult: booking.ApplyResult{
			Booking: booking.Booking{
				ID:              "b1",
				CustomerID:      "customer-1",
				TherapistID:     "therapist-1",
				TherapistStatus: booking.StatusConfirmed,
				StoreStatus:     booking.StatusConfirmed,
				ScheduledAt:     now,
				CreatedAt:       now,
			},
			EffectiveStatus: booking.StatusConfirmed,
			JustConverged:   true,
		},
	}
	server := &Server{bookingService: svc}

	req := httptest.NewRequest(http.MethodPatch, "/api/bookings/b1/status", strings.NewReader(`{"status":"confirmed"}`))
	req = authedContext(req, "therapist-1", auth.RoleTherapist)
	rec := httptest.NewRecorder()

	server.handleBookingDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if svc.appliedWith.Party != booking.PartyTherapist {
		t.Fatalf("expected therapist party from role, got %s", svc.appliedWith.Party)
	}
	if svc.appliedWith.ActorID != "therapist-1" || svc.appliedWith.BookingID != "b1" {
		t.Fatalf("unexpected apply params: %+v", svc.appliedWith)
	}

	var resp applyStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.JustConverged || resp.EffectiveStatus != "confirmed" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleApplyStatus_StoreOperatorMapsToStoreParty(t *testing.T) {
	svc := &stubBookingService{applyResult: booking.ApplyResult{EffectiveStatus: booking.StatusPending}}
	server := &Server{bookingService: svc}

	req := httptest.NewRequest(http.MethodPatch, "/api/bookings/b1/status", strings.NewReader(`{"status":"confirmed"}`))
	req = authedContext(req, "operator-1", auth.RoleStoreOperator)
	rec := httptest.NewRecorder()

	server.handleBookingDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.appliedWith.Party != booking.PartyStore {
		t.Fatalf("expected store party from role, got %s", svc.appliedWith.Party)
	}
}

func TestHandleApplyStatus_CustomerForbidden(t *testing.T) {
	server := &Server{bookingService: &stubBookingService{}}

	req := httptest.NewRequest(http.MethodPatch, "/api/bookings/b1/status", strings.NewReader(`{"status":"cancelled"}`))
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleBookingDetail(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleApplyStatus_TerminalConflict(t *testing.T) {
	server := &Server{bookingService: &stubBookingService{applyErr: booking.ErrTerminalState}}

	req := httptest.NewRequest(http.MethodPatch, "/api/bookings/b1/status", strings.NewReader(`{"status":"confirmed"}`))
	req = authedContext(req, "therapist-1", auth.RoleTherapist)
	rec := httptest.NewRecorder()

	server.handleBookingDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleApplyStatus_InvalidTransition(t *testing.T) {
	server := &Server{bookingService: &stubBookingService{applyErr: booking.ErrInvalidTransition}}

	req := httptest.NewRequest(http.MethodPatch, "/api/bookings/b1/status", strings.NewReader(`{"status":"completed"}`))
	req = authedContext(req, "therapist-1", auth.RoleTherapist)
	rec := httptest.NewRecorder()

	server.handleBookingDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetBooking_NotFound(t *testing.T) {
	server := &Server{bookingService: &stubBookingService{getErr: booking.ErrNotFound}}

	req := httptest.NewRequest(http.MethodGet, "/api/bookings/missing", nil)
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleBookingDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetBooking_Forbidden(t *testing.T) {
	server := &Server{bookingService: &stubBookingService{getErr: booking.ErrForbidden}}

	req := httptest.NewRequest(http.MethodGet, "/api/bookings/b1", nil)
	req = authedContext(req, "stranger", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleBookingDetail(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateBooking_PinsActiveStore(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubBookingService{created: booking.Booking{ID: "b1", ScheduledAt: now, CreatedAt: now}}
	server := &Server{
		bookingService: svc,
		affiliationService: &stubAffiliationService{
			activeStore: &affiliation.Store{ID: "store-1", Name: "Calm Hands"},
		},
	}

	body := strings.NewReader(`{"therapistId":"therapist-1","serviceName":"Deep tissue","priceCents":9500,"scheduledAt":"2026-03-14T10:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bookings", body)
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleBookings(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.createdWith.StoreID == nil || *svc.createdWith.StoreID != "store-1" {
		t.Fatalf("expected active store pinned on creation, got %+v", svc.createdWith.StoreID)
	}
	if svc.createdWith.CustomerID != "customer-1" {
		t.Fatalf("expected customer from token, got %q", svc.createdWith.CustomerID)
	}
}

func TestHandleCreateBooking_SoloTherapistLeavesStoreUnset(t *testing.T) {
	svc := &stubBookingService{created: booking.Booking{ID: "b1", ScheduledAt: time.Now(), CreatedAt: time.Now()}}
	server := &Server{
		bookingService:     svc,
		affiliationService: &stubAffiliationService{activeStore: nil},
	}

	body := strings.NewReader(`{"therapistId":"therapist-1","scheduledAt":"2026-03-14T10:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bookings", body)
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleBookings(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if svc.createdWith.StoreID != nil {
		t.Fatalf("expected no store for solo therapist, got %v", *svc.createdWith.StoreID)
	}
}

func TestHandleCreateBooking_TherapistRoleRejected(t *testing.T) {
	server := &Server{bookingService: &stubBookingService{}}

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(`{}`))
	req = authedContext(req, "therapist-1", auth.RoleTherapist)
	rec := httptest.NewRecorder()

	server.handleBookings(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleListBookings_ScopesTherapistToOwnBookings(t *testing.T) {
	svc := &stubBookingService{listResult: booking.ListResult{}}
	server := &Server{bookingService: svc}

	req := httptest.NewRequest(http.MethodGet, "/api/bookings?status=pending&page=2&pageSize=10", nil)
	req = authedContext(req, "therapist-1", auth.RoleTherapist)
	rec := httptest.NewRecorder()

	server.handleBookings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleListBookings_StoreOperatorNeedsStoreID(t *testing.T) {
	server := &Server{bookingService: &stubBookingService{}}

	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	req = authedContext(req, "operator-1", auth.RoleStoreOperator)
	rec := httptest.NewRecorder()

	server.handleBookings(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleNotifications_List(t *testing.T) {
	now := time.Now().UTC()
	server := &Server{
		notificationService: &stubNotificationStore{
			notifications: []notify.Notification{
				{ID: "n1", Kind: notify.KindBookingConfirmed, Title: "Booking confirmed", SentAt: now},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []notificationResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Kind != notify.KindBookingConfirmed {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleMarkRead_NotFound(t *testing.T) {
	server := &Server{notificationService: &stubNotificationStore{markReadErr: notify.ErrNotFound}}

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/n1/read", nil)
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleNotificationDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleStore_Success(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	server := &Server{
		affiliationService: &stubAffiliationService{
			store: affiliation.Store{ID: "store-1", Name: "Calm Hands", Verified: true, CreatedAt: now},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stores/store-1", nil)
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleStore(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp storeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "store-1" || !resp.Verified || resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleStore_NotFound(t *testing.T) {
	server := &Server{
		affiliationService: &stubAffiliationService{storeErr: affiliation.ErrNotFound},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stores/missing", nil)
	req = authedContext(req, "customer-1", auth.RoleCustomer)
	rec := httptest.NewRecorder()

	server.handleStore(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := &Server{authService: &stubAuthService{}}
	handler := server.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_PropagatesIdentity(t *testing.T) {
	server := &Server{authService: &stubAuthService{userID: "user-1", role: auth.RoleTherapist}}

	var gotID string
	var gotRole auth.Role
	handler := server.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = r.Context().Value(ctxKeyUserID).(string)
		gotRole, _ = r.Context().Value(ctxKeyRole).(auth.Role)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if gotID != "user-1" || gotRole != auth.RoleTherapist {
		t.Fatalf("expected identity from token, got %q %q", gotID, gotRole)
	}
}
