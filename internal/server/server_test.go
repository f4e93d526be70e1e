package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mensahlabs/rentlink/internal/catalog"
	"github.com/mensahlabs/rentlink/internal/config"
	"github.com/mensahlabs/rentlink/internal/identity"
	"github.com/mensahlabs/rentlink/internal/payout"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-for-server-tests"

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		Env:             "development",
		LogLevel:        "error",
		JWTSecret:       testSecret,
		RateLimitRPS:    1000,
		SettlementDelay: time.Hour, // never fires during a test
	}
}

// newTestServer creates an in-memory server with one user per role
func newTestServer(t *testing.T) (*Server, map[string]string) {
	t.Helper()

	users := identity.NewMemoryUserStore()
	users.Put(&identity.User{ID: "tenant-1", Role: identity.RoleTenant, Tier: identity.TierFree})
	users.Put(&identity.User{ID: "provider-1", Role: identity.RoleProvider, Tier: identity.TierFree})
	users.Put(&identity.User{ID: "admin-1", Role: identity.RoleAdmin, Tier: identity.TierSuperuser})

	s, err := New(testConfig(), WithUserStore(users))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	issuer := identity.NewTokenIssuer(testSecret, time.Hour)
	tokens := make(map[string]string)
	for _, id := range []string{"tenant-1", "provider-1", "admin-1"} {
		tok, err := issuer.Issue(id)
		if err != nil {
			t.Fatalf("Failed to issue token: %v", err)
		}
		tokens[id] = tok
	}
	return s, tokens
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s, _ := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/v1/listings/:id",
		"POST:/v1/unlock",
		"GET:/v1/unlocks",
		"POST:/v1/payouts/request",
		"GET:/v1/payouts/history/:providerId",
		"POST:/v1/admin/payouts/:id/fail",
		"GET:/v1/me",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Auth enforcement tests
// ---------------------------------------------------------------------------

func TestProtectedRouteRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/unlock", strings.NewReader(`{"targetId":"lst_1"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestAdminRouteRejectsNonAdmin(t *testing.T) {
	s, tokens := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/admin/payouts/po_1/fail", strings.NewReader(`{"reason":"test"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokens["tenant-1"])
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end flow tests
// ---------------------------------------------------------------------------

func TestListingIsPublicButContactIsNot(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	err := s.Catalog().Create(ctx, &catalog.Listing{
		ID:           "lst_e2e",
		LandlordID:   "landlord-1",
		Title:        "2BR East Legon",
		Area:         "East Legon",
		Rent:         payout.Amount(1200_00),
		ContactName:  "Akosua Boateng",
		ContactPhone: "0244123456",
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to seed listing: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/listings/lst_e2e", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if strings.Contains(body, "Akosua") || strings.Contains(body, "0244123456") {
		t.Error("Public listing payload must not leak contact details")
	}
}

func TestUnlockFlowOverHTTP(t *testing.T) {
	s, tokens := newTestServer(t)
	ctx := context.Background()

	err := s.Catalog().Create(ctx, &catalog.Listing{
		ID:          "lst_flow",
		LandlordID:  "landlord-1",
		Title:       "Single room, Osu",
		Area:        "Osu",
		Rent:        payout.Amount(450_00),
		ContactName: "Yaw Darko", ContactPhone: "0209876543",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to seed listing: %v", err)
	}

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/unlock", strings.NewReader(`{"targetId":"lst_flow"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokens["tenant-1"])
		s.router.ServeHTTP(w, req)
		return w
	}

	w := do()
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status  string `json:"status"`
		Contact struct {
			Name  string `json:"name"`
			Phone string `json:"phone"`
		} `json:"contact"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "UNLOCKED" {
		t.Errorf("Expected UNLOCKED, got %s", resp.Status)
	}
	if resp.Contact.Phone != "0209876543" {
		t.Errorf("Expected contact phone in unlock payload, got %q", resp.Contact.Phone)
	}

	// Repeat is idempotent and free
	w = do()
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on repeat, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "ALREADY_UNLOCKED" {
		t.Errorf("Expected ALREADY_UNLOCKED on repeat, got %s", resp.Status)
	}
}

func TestPayoutRequestOverHTTP(t *testing.T) {
	s, tokens := newTestServer(t)
	ctx := context.Background()

	if err := s.Payouts().Credit(ctx, "provider-1", payout.Amount(1540_00), "earnings"); err != nil {
		t.Fatalf("Failed to credit provider: %v", err)
	}

	body := `{"amount":"500.00","method":"MTN","accountNumber":"0244123456","accountName":"Kwame Mensah"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/payouts/request", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokens["provider-1"])
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// History reflects the locked funds
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/payouts/history/provider-1", nil)
	req.Header.Set("Authorization", "Bearer "+tokens["provider-1"])
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var hist struct {
		AvailableBalance string `json:"availableBalance"`
		Payouts          []struct {
			Status string `json:"status"`
		} `json:"payouts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("Failed to parse history: %v", err)
	}
	if hist.AvailableBalance != "1040.00" {
		t.Errorf("Expected balance 1040.00 after lock, got %s", hist.AvailableBalance)
	}
	if len(hist.Payouts) != 1 || hist.Payouts[0].Status != "PENDING" {
		t.Errorf("Expected one PENDING payout, got %+v", hist.Payouts)
	}
}

func TestHistoryOwnershipEnforced(t *testing.T) {
	s, tokens := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/payouts/history/provider-1", nil)
	req.Header.Set("Authorization", "Bearer "+tokens["tenant-1"])
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign history, got %d", w.Code)
	}

	// Admin may read anyone's history
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/payouts/history/provider-1", nil)
	req.Header.Set("Authorization", "Bearer "+tokens["admin-1"])
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
