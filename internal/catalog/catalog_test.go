package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedListing(t *testing.T, store Store, id string, createdAt time.Time) *Listing {
	t.Helper()
	listing := &Listing{
		ID:           id,
		LandlordID:   "landlord-1",
		Title:        "2 bedroom apartment",
		Area:         "Osu, Accra",
		Rent:         1200_00,
		ContactName:  "Adjoa Asante",
		ContactPhone: "0244111222",
		CreatedAt:    createdAt,
	}
	require.NoError(t, store.Create(context.Background(), listing))
	return listing
}

func TestService_GetAndExists(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	seedListing(t, store, "lst_1", time.Now())

	listing, err := svc.Get(ctx, "lst_1")
	require.NoError(t, err)
	assert.Equal(t, "2 bedroom apartment", listing.Title)

	_, err = svc.Get(ctx, "lst_missing")
	assert.True(t, errors.Is(err, ErrListingNotFound))

	exists, err := svc.Exists(ctx, "lst_1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = svc.Exists(ctx, "lst_missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_Contact(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	seedListing(t, store, "lst_1", time.Now())

	contact, err := svc.Contact(ctx, "lst_1")
	require.NoError(t, err)
	assert.Equal(t, "Adjoa Asante", contact.Name)
	assert.Equal(t, "0244111222", contact.Phone)

	_, err = svc.Contact(ctx, "lst_missing")
	assert.True(t, errors.Is(err, ErrListingNotFound))
}

func TestService_ListNewestFirstWithLimit(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		seedListing(t, store, "lst_"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
	}

	listings, err := svc.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.Equal(t, "lst_e", listings[0].ID)
	assert.Equal(t, "lst_d", listings[1].ID)
	assert.Equal(t, "lst_c", listings[2].ID)
}

func TestListingJSONOmitsContact(t *testing.T) {
	listing := &Listing{
		ID:           "lst_1",
		LandlordID:   "landlord-1",
		Title:        "2 bedroom apartment",
		Area:         "Osu, Accra",
		Rent:         1200_00,
		ContactName:  "Adjoa Asante",
		ContactPhone: "0244111222",
	}

	payload, err := json.Marshal(listing)
	require.NoError(t, err)

	body := string(payload)
	assert.NotContains(t, body, "Adjoa Asante")
	assert.NotContains(t, body, "0244111222")
	assert.Contains(t, body, `"rent":"1200.00"`)
}

func TestGetListingEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	seedListing(t, store, "lst_1", time.Now())

	router := gin.New()
	NewHandler(NewService(store)).RegisterPublicRoutes(router.Group("/v1"))

	req := httptest.NewRequest(http.MethodGet, "/v1/listings/lst_1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `"id":"lst_1"`)
	assert.False(t, strings.Contains(body, "0244111222"), "contact phone leaked on public surface")

	req = httptest.NewRequest(http.MethodGet, "/v1/listings/lst_missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
