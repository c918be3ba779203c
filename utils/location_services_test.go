package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidly-labs/aidly-go-sdk/models"
)

var testCenter = models.UserLocation{Lat: models.DefaultLatitude, Lng: models.DefaultLongitude}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, haversineKm(28.6, 77.1, 28.6, 77.1), 1e-9)

	// One degree of latitude is roughly 111.2 km.
	assert.InDelta(t, 111.2, haversineKm(28.0, 77.1, 29.0, 77.1), 0.5)
}

func TestRankFacilitiesFiltersAndSorts(t *testing.T) {
	records := []facilityRecord{
		{Name: "Far Away Hospital", Lat: testCenter.Lat + 1.0, Lng: testCenter.Lng}, // ~111 km out
		{Name: "Mid Hospital", Lat: testCenter.Lat + 0.02, Lng: testCenter.Lng},     // ~2.2 km
		{Name: "Close Hospital", Lat: testCenter.Lat + 0.005, Lng: testCenter.Lng},  // ~0.6 km
	}

	hospitals := rankFacilities(testCenter, 5, records)
	require.Len(t, hospitals, 2)
	assert.Equal(t, "Close Hospital", hospitals[0].Name)
	assert.Equal(t, "Mid Hospital", hospitals[1].Name)

	for i := 1; i < len(hospitals); i++ {
		assert.LessOrEqual(t, hospitals[i-1].DistanceKm, hospitals[i].DistanceKm)
	}
}

func TestRankFacilitiesTieBreaksByName(t *testing.T) {
	lat, lng := testCenter.Lat+0.01, testCenter.Lng
	records := []facilityRecord{
		{Name: "Zeta Clinic", Lat: lat, Lng: lng},
		{Name: "Alpha Clinic", Lat: lat, Lng: lng},
		{Name: "Beta Clinic", Lat: lat, Lng: lng},
	}

	hospitals := rankFacilities(testCenter, 5, records)
	require.Len(t, hospitals, 3)
	assert.Equal(t, "Alpha Clinic", hospitals[0].Name)
	assert.Equal(t, "Beta Clinic", hospitals[1].Name)
	assert.Equal(t, "Zeta Clinic", hospitals[2].Name)
}

func TestRankFacilitiesLabelsDistance(t *testing.T) {
	records := []facilityRecord{{Name: "A", Lat: testCenter.Lat + 0.02, Lng: testCenter.Lng}}

	hospitals := rankFacilities(testCenter, 5, records)
	require.Len(t, hospitals, 1)
	assert.Regexp(t, `^\d+\.\d km$`, hospitals[0].Distance)
}

func TestPickNavigationPrecedence(t *testing.T) {
	both := pickNavigation(facilityRecord{
		MapplsURL:     "https://mappls.com/direction?x=1",
		DirectionsURL: "https://maps.google.com/?q=1",
	})
	assert.Equal(t, models.NavProviderMappls, both.Provider)
	assert.Equal(t, "https://mappls.com/direction?x=1", both.URL)

	generic := pickNavigation(facilityRecord{DirectionsURL: "https://maps.google.com/?q=1"})
	assert.Equal(t, models.NavProviderGMaps, generic.Provider)

	derived := pickNavigation(facilityRecord{Lat: 28.61, Lng: 77.10})
	assert.Equal(t, models.NavProviderGMaps, derived.Provider)
	assert.Contains(t, derived.URL, "28.61")
}

func newTestLocator(baseURL string, redisClient *redis.Client) *HospitalLocator {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetHeader("Accept", "application/json")
	return &HospitalLocator{rest: rest, redisClient: redisClient}
}

func facilityServer(t *testing.T, records []facilityRecord, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}))
}

func TestFindNearbyReturnsSortedBatch(t *testing.T) {
	srv := facilityServer(t, []facilityRecord{
		{Name: "City Hospital", Address: "Main Rd", Lat: testCenter.Lat + 0.02, Lng: testCenter.Lng, Emergency: true},
		{Name: "Nearby Clinic", Address: "Side St", Lat: testCenter.Lat + 0.005, Lng: testCenter.Lng},
	}, nil)
	defer srv.Close()

	locator := newTestLocator(srv.URL, nil)
	hospitals, err := locator.FindNearby(context.Background(), testCenter, 5)
	require.NoError(t, err)
	require.Len(t, hospitals, 2)
	assert.Equal(t, "Nearby Clinic", hospitals[0].Name)
	assert.True(t, hospitals[1].Emergency)
}

func TestFindNearbyEmptyIsNotAnError(t *testing.T) {
	srv := facilityServer(t, []facilityRecord{}, nil)
	defer srv.Close()

	locator := newTestLocator(srv.URL, nil)
	hospitals, err := locator.FindNearby(context.Background(), testCenter, 5)
	require.NoError(t, err)
	assert.Empty(t, hospitals)
}

func TestFindNearbyServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	locator := newTestLocator(srv.URL, nil)
	_, err := locator.FindNearby(context.Background(), testCenter, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrLocationServiceUnavailable))
}

func TestFindNearbyUnparseableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	locator := newTestLocator(srv.URL, nil)
	_, err := locator.FindNearby(context.Background(), testCenter, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrLocationServiceUnavailable))
}

func TestFindNearbyUsesCache(t *testing.T) {
	hits := 0
	srv := facilityServer(t, []facilityRecord{
		{Name: "City Hospital", Lat: testCenter.Lat + 0.01, Lng: testCenter.Lng},
	}, &hits)
	defer srv.Close()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locator := newTestLocator(srv.URL, redisClient)

	first, err := locator.FindNearby(context.Background(), testCenter, 5)
	require.NoError(t, err)

	second, err := locator.FindNearby(context.Background(), testCenter, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, hits, "second search must come from the cache")
	assert.Equal(t, first, second)

	// A different radius is a different batch.
	_, err = locator.FindNearby(context.Background(), testCenter, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}
