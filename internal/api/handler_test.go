package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/boxauth/internal/authz"
	"github.com/alecgard/boxauth/internal/gym"
	"github.com/alecgard/boxauth/internal/metrics"
	"github.com/alecgard/boxauth/internal/ratelimit"
	"github.com/alecgard/boxauth/internal/session"
	"github.com/alecgard/boxauth/internal/token"
	"github.com/alecgard/boxauth/internal/user"
	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeUserStore struct {
	mu    sync.Mutex
	seq   int
	users map[string]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*user.User{}}
}

func (s *fakeUserStore) Create(_ context.Context, in user.CreateUserInput) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(in.Email)
	for _, u := range s.users {
		if u.Email == email {
			return nil, user.ErrEmailTaken
		}
	}

	// MinCost keeps the test suite fast.
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = user.RoleUser
	}

	s.seq++
	u := &user.User{
		ID:           fmt.Sprintf("u-%d", s.seq),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         role,
		Enabled:      true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *fakeUserStore) GetByID(_ context.Context, id string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (s *fakeUserStore) Update(_ context.Context, id string, in user.UpdateUserInput) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	if in.FirstName != nil {
		u.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		u.LastName = *in.LastName
	}
	if in.Locale != nil {
		u.Locale = *in.Locale
	}
	if in.Theme != nil {
		u.Theme = *in.Theme
	}
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, id, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (s *fakeUserStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Enabled = enabled
	return nil
}

type fakeGymStore struct {
	mu          sync.Mutex
	seq         int
	gyms        map[string]*gym.Gym
	memberships map[string]*gym.Membership
}

func newFakeGymStore() *fakeGymStore {
	return &fakeGymStore{
		gyms:        map[string]*gym.Gym{},
		memberships: map[string]*gym.Membership{},
	}
}

func memberKey(userID, gymID string) string { return userID + "/" + gymID }

func (s *fakeGymStore) Create(_ context.Context, in gym.CreateGymInput) (*gym.Gym, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	g := &gym.Gym{
		ID:             fmt.Sprintf("g-%d", s.seq),
		Name:           in.Name,
		Status:         gym.StatusPendingApproval,
		EnrollmentCode: in.EnrollmentCode,
		AutoSubscribe:  in.AutoSubscribe,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	s.gyms[g.ID] = g
	return g, nil
}

func (s *fakeGymStore) GetByID(_ context.Context, id string) (*gym.Gym, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gyms[id]
	if !ok {
		return nil, gym.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *fakeGymStore) GetByEnrollmentCode(_ context.Context, code string) (*gym.Gym, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.gyms {
		if g.EnrollmentCode == code {
			cp := *g
			return &cp, nil
		}
	}
	return nil, gym.ErrNotFound
}

func (s *fakeGymStore) Update(_ context.Context, id string, in gym.UpdateGymInput) (*gym.Gym, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gyms[id]
	if !ok {
		return nil, gym.ErrNotFound
	}
	if in.Name != nil {
		g.Name = *in.Name
	}
	if in.EnrollmentCode != nil {
		g.EnrollmentCode = *in.EnrollmentCode
	}
	if in.AutoSubscribe != nil {
		g.AutoSubscribe = *in.AutoSubscribe
	}
	g.UpdatedAt = time.Now()
	cp := *g
	return &cp, nil
}

func (s *fakeGymStore) SetStatus(_ context.Context, id string, status gym.GymStatus) (*gym.Gym, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gyms[id]
	if !ok {
		return nil, gym.ErrNotFound
	}
	g.Status = status
	cp := *g
	return &cp, nil
}

func (s *fakeGymStore) CreateMembership(_ context.Context, userID, gymID string, status gym.MembershipStatus, role gym.TenantRole) (*gym.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey(userID, gymID)
	if _, exists := s.memberships[k]; exists {
		return nil, gym.ErrDuplicateMembership
	}
	m := &gym.Membership{
		UserID:      userID,
		GymID:       gymID,
		Status:      status,
		Role:        role,
		Permissions: gym.PermissionSet{},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.memberships[k] = m
	cp := *m
	return &cp, nil
}

func (s *fakeGymStore) GetMembership(_ context.Context, userID, gymID string) (*gym.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[memberKey(userID, gymID)]
	if !ok {
		return nil, gym.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeGymStore) ListMemberships(_ context.Context, gymID string) ([]*gym.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*gym.Membership
	for _, m := range s.memberships {
		if m.GymID == gymID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeGymStore) UpdateMembership(_ context.Context, userID, gymID string, in gym.UpdateMembershipInput) (*gym.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[memberKey(userID, gymID)]
	if !ok {
		return nil, gym.ErrNotFound
	}
	if in.Status != nil {
		m.Status = *in.Status
	}
	if in.Role != nil {
		m.Role = *in.Role
	}
	if in.Permissions != nil {
		m.Permissions = *in.Permissions
	}
	m.UpdatedAt = time.Now()
	cp := *m
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Test harness
// ---------------------------------------------------------------------------

const (
	testInternalToken = "internal-secret"
	testCreationToken = "creation-secret"
)

type testAPI struct {
	handler http.Handler
	users   *fakeUserStore
	gyms    *fakeGymStore
	tokens  *token.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	users := newFakeUserStore()
	gyms := newFakeGymStore()
	tokens := token.NewService(token.Config{
		Secret:     "test-secret",
		Issuer:     "boxauth",
		Audience:   "boxplatform",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}, session.NewMemoryStore())
	limiter := ratelimit.NewMemoryLimiter()

	handler := NewRouter(RouterDeps{
		Users:            users,
		Gyms:             gyms,
		Tokens:           tokens,
		Engine:           authz.NewEngine(gyms),
		Limiter:          limiter,
		Lockout:          ratelimit.NewLockout(limiter, 5, 15*time.Minute),
		Metrics:          metrics.New(),
		InternalToken:    testInternalToken,
		GymCreationToken: testCreationToken,
		RateLimitDefault: 1000,
		RateLimitWindow:  time.Minute,
		AllowedOrigins:   []string{"*"},
	})

	return &testAPI{handler: handler, users: users, gyms: gyms, tokens: tokens}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// register creates a user directly through the store.
func (a *testAPI) register(t *testing.T, email, password string) *user.User {
	t.Helper()
	u, err := a.users.Create(context.Background(), user.CreateUserInput{
		Email:     email,
		Password:  password,
		FirstName: "Test",
		LastName:  "User",
	})
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

func (a *testAPI) registerAdmin(t *testing.T, email, password string) *user.User {
	t.Helper()
	u, err := a.users.Create(context.Background(), user.CreateUserInput{
		Email:     email,
		Password:  password,
		FirstName: "Admin",
		LastName:  "User",
		Role:      user.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("creating admin: %v", err)
	}
	return u
}

// login performs a real login and returns the issued cookies.
func (a *testAPI) login(t *testing.T, email, password string) []*http.Cookie {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	return rec.Result().Cookies()
}

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var envelope errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return envelope.Error
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":      "jane@box.example",
		"password":   "correct-horse",
		"first_name": "Jane",
		"last_name":  "Doe",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var u user.User
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decoding user: %v", err)
	}
	if u.Email != "jane@box.example" {
		t.Errorf("email: got %q", u.Email)
	}
	if u.Role != user.RoleUser {
		t.Errorf("expected default role USER, got %q", u.Role)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("response must not contain password material")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":      "jane@box.example",
		"password":   "another-pass",
		"first_name": "Jane",
		"last_name":  "Doe",
	})

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "conflict" {
		t.Errorf("expected code=conflict, got %q", e.Code)
	}
}

func TestRegister_AggregatesValidationErrors(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "short",
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Code != "validation_error" {
		t.Fatalf("expected code=validation_error, got %q", e.Code)
	}
	for _, field := range []string{"email", "password", "first_name", "last_name"} {
		if _, ok := e.Fields[field]; !ok {
			t.Errorf("expected a failure for field %q, got %v", field, e.Fields)
		}
	}
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_SetsCookiePair(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "jane@box.example",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cookies := rec.Result().Cookies()
	access := cookieByName(cookies, accessCookieName)
	refresh := cookieByName(cookies, refreshCookieName)
	if access == nil || access.Value == "" {
		t.Fatal("expected access cookie to be set")
	}
	if refresh == nil || refresh.Value == "" {
		t.Fatal("expected refresh cookie to be set")
	}

	for _, c := range []*http.Cookie{access, refresh} {
		if !c.HttpOnly {
			t.Errorf("cookie %s must be HttpOnly", c.Name)
		}
		if !c.Secure {
			t.Errorf("cookie %s must be Secure", c.Name)
		}
		if c.SameSite != http.SameSiteStrictMode {
			t.Errorf("cookie %s must be SameSite=Strict", c.Name)
		}
	}
	if refresh.Path != refreshCookiePath {
		t.Errorf("refresh cookie path: got %q, want %q", refresh.Path, refreshCookiePath)
	}
}

func TestLogin_WrongPasswordIsGeneric(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")

	wrongPass := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@box.example", "password": "wrong",
	})
	unknownEmail := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "nobody@box.example", "password": "wrong",
	})

	for name, rec := range map[string]*httptest.ResponseRecorder{
		"wrong password": wrongPass, "unknown email": unknownEmail,
	} {
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
		if e := decodeError(t, rec); e.Code != "invalid_credentials" {
			t.Errorf("%s: expected code=invalid_credentials, got %q", name, e.Code)
		}
	}
}

func TestLogin_DisabledAccountIsGeneric(t *testing.T) {
	a := newTestAPI(t)
	u := a.register(t, "jane@box.example", "correct-horse")
	_ = a.users.SetEnabled(context.Background(), u.ID, false)

	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@box.example", "password": "correct-horse",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "invalid_credentials" {
		t.Errorf("disabled account must look like bad credentials, got %q", e.Code)
	}
}

func TestLogin_LockoutTripsAfterRepeatedFailures(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")

	attempt := func() *httptest.ResponseRecorder {
		return a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email": "jane@box.example", "password": "wrong",
		})
	}

	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec = attempt()
	}
	// The failure that exhausts the budget reports the lock.
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the locking attempt, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "account_locked" {
		t.Errorf("expected code=account_locked, got %q", e.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After on lockout response")
	}

	// Even the correct password fails fast while locked.
	rec = a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@box.example", "password": "correct-horse",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while locked, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "account_locked" {
		t.Errorf("expected code=account_locked, got %q", e.Code)
	}
}

// ---------------------------------------------------------------------------
// Refresh rotation
// ---------------------------------------------------------------------------

func TestRefresh_RotatesSession(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")
	cookies := a.login(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookies(cookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rotated := rec.Result().Cookies()
	oldRefresh := cookieByName(cookies, refreshCookieName)
	newRefresh := cookieByName(rotated, refreshCookieName)
	if newRefresh == nil || newRefresh.Value == "" {
		t.Fatal("expected a replacement refresh cookie")
	}
	if newRefresh.Value == oldRefresh.Value {
		t.Error("rotation must issue a different session id")
	}

	// Replaying the consumed session fails.
	rec = a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookies(cookies))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "invalid_token" {
		t.Errorf("expected code=invalid_token, got %q", e.Code)
	}

	// The replacement still works.
	rec = a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookies(rotated))
	if rec.Code != http.StatusOK {
		t.Fatalf("replacement session should rotate, got %d", rec.Code)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "no-such-session"})
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "invalid_token" {
		t.Errorf("expected code=invalid_token, got %q", e.Code)
	}
}

func TestRefresh_DisabledAccountRevokes(t *testing.T) {
	a := newTestAPI(t)
	u := a.register(t, "jane@box.example", "correct-horse")
	cookies := a.login(t, "jane@box.example", "correct-horse")

	_ = a.users.SetEnabled(context.Background(), u.ID, false)

	rec := a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookies(cookies))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for disabled account, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Logout and me
// ---------------------------------------------------------------------------

func TestLogout_RevokesAndClearsCookies(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")
	cookies := a.login(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodPost, "/api/v1/auth/logout", nil, withCookies(cookies))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	cleared := cookieByName(rec.Result().Cookies(), refreshCookieName)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Error("expected refresh cookie to be expired")
	}

	// The revoked session no longer rotates.
	rec = a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookies(cookies))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")
	cookies := a.login(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodGet, "/api/v1/auth/me", nil, withCookies(cookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var u user.User
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decoding user: %v", err)
	}
	if u.Email != "jane@box.example" {
		t.Errorf("email: got %q", u.Email)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMe_BearerFallback(t *testing.T) {
	a := newTestAPI(t)
	u := a.register(t, "jane@box.example", "correct-horse")

	access, err := a.tokens.IssueAccessToken(u.ID, u.Role)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	rec := a.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+access)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Trust header spoofing
// ---------------------------------------------------------------------------

func TestPublicSurfaceStripsTrustHeaders(t *testing.T) {
	a := newTestAPI(t)
	admin := a.registerAdmin(t, "admin@box.example", "admin-password")

	// Spoofed identity headers without a token must not authenticate.
	rec := a.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set(headerUserID, admin.ID)
		r.Header.Set(headerUserRole, string(user.RoleAdmin))
		r.Header.Set(headerInternalToken, testInternalToken)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("spoofed headers must not authenticate, got %d", rec.Code)
	}
}

func TestEdgeInjectsTrustHeaders(t *testing.T) {
	a := newTestAPI(t)
	u := a.register(t, "member@box.example", "member-password")

	access, err := a.tokens.IssueAccessToken(u.ID, u.Role)
	if err != nil {
		t.Fatal(err)
	}

	// A request that clears the edge carries the full trust header set, so
	// forwarding it to an internal service as-is must succeed.
	var forwarded http.Header
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.Header.Clone()
	})
	h := edgeAuthMiddleware(a.tokens, testInternalToken)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if forwarded == nil {
		t.Fatal("expected inner handler to run")
	}
	if got := forwarded.Get(headerUserID); got != u.ID {
		t.Errorf("expected user id header %q, got %q", u.ID, got)
	}
	if got := forwarded.Get(headerUserRole); got != string(user.RoleUser) {
		t.Errorf("expected role header %q, got %q", user.RoleUser, got)
	}
	if got := forwarded.Get(headerInternalToken); got != testInternalToken {
		t.Errorf("expected internal token header to be injected, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Impersonation
// ---------------------------------------------------------------------------

func TestImpersonate(t *testing.T) {
	a := newTestAPI(t)
	target := a.register(t, "jane@box.example", "correct-horse")
	a.registerAdmin(t, "admin@box.example", "admin-password")
	cookies := a.login(t, "admin@box.example", "admin-password")

	rec := a.do(t, http.MethodPost, "/api/v1/auth/impersonate",
		map[string]string{"user_id": target.ID}, withCookies(cookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	// The issued token authenticates as the target.
	rec = a.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+body.AccessToken)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("impersonation token rejected: %d", rec.Code)
	}
	var u user.User
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decoding user: %v", err)
	}
	if u.ID != target.ID {
		t.Errorf("expected target identity %s, got %s", target.ID, u.ID)
	}
}

func TestImpersonate_NonAdminForbidden(t *testing.T) {
	a := newTestAPI(t)
	target := a.register(t, "jane@box.example", "correct-horse")
	a.register(t, "pleb@box.example", "pleb-password")
	cookies := a.login(t, "pleb@box.example", "pleb-password")

	rec := a.do(t, http.MethodPost, "/api/v1/auth/impersonate",
		map[string]string{"user_id": target.ID}, withCookies(cookies))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Profile and password
// ---------------------------------------------------------------------------

func TestUpdateProfile(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")
	cookies := a.login(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodPatch, "/api/v1/users/me", map[string]string{
		"first_name": "Janet",
		"theme":      "dark",
	}, withCookies(cookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var u user.User
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if u.FirstName != "Janet" || u.Theme != "dark" {
		t.Errorf("partial update not applied: %+v", u)
	}
	if u.LastName != "User" {
		t.Errorf("absent field must be untouched, got last_name=%q", u.LastName)
	}
}

func TestUpdatePassword_RevokesSessions(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")
	cookies := a.login(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodPut, "/api/v1/users/me/password", map[string]string{
		"current_password": "correct-horse",
		"new_password":     "battery-staple",
	}, withCookies(cookies))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	// The old refresh session is gone.
	rec = a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookies(cookies))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after password change, got %d", rec.Code)
	}

	// The new password logs in.
	a.login(t, "jane@box.example", "battery-staple")
}

func TestUpdatePassword_WrongCurrent(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "correct-horse")
	cookies := a.login(t, "jane@box.example", "correct-horse")

	rec := a.do(t, http.MethodPut, "/api/v1/users/me/password", map[string]string{
		"current_password": "wrong",
		"new_password":     "battery-staple",
	}, withCookies(cookies))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Account status
// ---------------------------------------------------------------------------

func TestSetUserStatus_DisableRevokesSessions(t *testing.T) {
	a := newTestAPI(t)
	a.registerAdmin(t, "admin@box.example", "admin-password")
	target := a.register(t, "jane@box.example", "jane-password")

	adminCookies := a.login(t, "admin@box.example", "admin-password")
	targetCookies := a.login(t, "jane@box.example", "jane-password")

	rec := a.do(t, http.MethodPut, "/api/v1/users/"+target.ID+"/status", map[string]interface{}{
		"enabled": false,
	}, withCookies(adminCookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got user.User
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("expected account to be disabled")
	}

	// The disabled account's refresh session is gone.
	rec = a.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, withCookies(targetCookies))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 refreshing a revoked session, got %d", rec.Code)
	}

	// Logins fail with the generic credential error while disabled.
	rec = a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "jane@box.example",
		"password": "jane-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for disabled login, got %d", rec.Code)
	}

	// Re-enabling restores access.
	rec = a.do(t, http.MethodPut, "/api/v1/users/"+target.ID+"/status", map[string]interface{}{
		"enabled": true,
	}, withCookies(adminCookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 re-enabling, got %d", rec.Code)
	}
	a.login(t, "jane@box.example", "jane-password")
}

func TestSetUserStatus_NonAdminForbidden(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "jane@box.example", "jane-password")
	target := a.register(t, "other@box.example", "other-password")
	cookies := a.login(t, "jane@box.example", "jane-password")

	rec := a.do(t, http.MethodPut, "/api/v1/users/"+target.ID+"/status", map[string]interface{}{
		"enabled": false,
	}, withCookies(cookies))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSetUserStatus_UnknownUser(t *testing.T) {
	a := newTestAPI(t)
	a.registerAdmin(t, "admin@box.example", "admin-password")
	cookies := a.login(t, "admin@box.example", "admin-password")

	rec := a.do(t, http.MethodPut, "/api/v1/users/u-999/status", map[string]interface{}{
		"enabled": false,
	}, withCookies(cookies))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Health and metrics
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

func TestMetricsEndpoints(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "boxauth_server_start_time_seconds") {
		t.Error("expected boxauth metric families in exposition")
	}

	rec = a.do(t, http.MethodGet, "/metrics/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics/summary: expected 200, got %d", rec.Code)
	}
}
