package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aidly-labs/aidly-go-sdk/models"
)

const hospitalCacheTTL = 30 * time.Minute

// facilityRecord is the raw, unsorted shape returned by the places API.
type facilityRecord struct {
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Lat           float64  `json:"lat"`
	Lng           float64  `json:"lng"`
	Phone         string   `json:"phone,omitempty"`
	Specialties   []string `json:"specialties,omitempty"`
	Emergency     bool     `json:"emergency"`
	MapplsURL     string   `json:"mappls_directions_url,omitempty"`
	DirectionsURL string   `json:"directions_url,omitempty"`
}

// HospitalLocator finds medical facilities around a coordinate. Raw
// candidates come from the places API; the ranking and filtering policy
// lives here. Results are cached per rounded coordinate and radius.
//
// Callers validate the radius against [MinRadiusKm, MaxRadiusKm] before
// invoking FindNearby; this component assumes a validated radius.
type HospitalLocator struct {
	rest        *resty.Client
	redisClient *redis.Client
}

func NewHospitalLocator(redisClient *redis.Client) *HospitalLocator {
	baseURL := os.Getenv("PLACES_API_URL")
	if baseURL == "" {
		zap.L().Fatal("PLACES_API_URL environment variable not set")
	}

	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")
	if key := os.Getenv("PLACES_API_KEY"); key != "" {
		rest.SetHeader("Authorization", "Bearer "+key)
	}

	return &HospitalLocator{rest: rest, redisClient: redisClient}
}

// FindNearby returns facilities within radiusKm of center, sorted by
// ascending great-circle distance with lexicographic name tie-break. An
// empty batch is a valid result, not an error; only a service failure
// returns ErrLocationServiceUnavailable.
func (l *HospitalLocator) FindNearby(ctx context.Context, center models.UserLocation, radiusKm float64) ([]models.Hospital, error) {
	cacheKey := fmt.Sprintf("hospitals:%.4f:%.4f:%.1f", center.Lat, center.Lng, radiusKm)

	if cached, ok := l.cacheGet(ctx, cacheKey); ok {
		zap.L().Debug("Hospital cache hit", zap.String("key", cacheKey))
		return cached, nil
	}

	resp, err := l.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":       fmt.Sprintf("%f", center.Lat),
			"lng":       fmt.Sprintf("%f", center.Lng),
			"radius_km": fmt.Sprintf("%f", radiusKm),
			"type":      "hospital",
		}).
		Get("/facilities/nearby")
	if err != nil {
		return nil, models.NewUpstreamError(models.ErrLocationServiceUnavailable, err)
	}
	if resp.IsError() {
		return nil, models.NewUpstreamError(models.ErrLocationServiceUnavailable,
			fmt.Errorf("places API returned status %d: %s", resp.StatusCode(), resp.String()))
	}

	var records []facilityRecord
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		return nil, models.NewUpstreamError(models.ErrLocationServiceUnavailable,
			fmt.Errorf("failed to parse places API response: %w", err))
	}

	hospitals := rankFacilities(center, radiusKm, records)
	zap.L().Info("Hospital search completed",
		zap.Int("candidates", len(records)),
		zap.Int("within_radius", len(hospitals)),
		zap.Float64("radius_km", radiusKm))

	l.cacheSet(ctx, cacheKey, hospitals)
	return hospitals, nil
}

// rankFacilities applies the ranking contract: filter to the radius, sort
// ascending by distance with name tie-break, label distances, and pick one
// navigation link per facility.
func rankFacilities(center models.UserLocation, radiusKm float64, records []facilityRecord) []models.Hospital {
	hospitals := make([]models.Hospital, 0, len(records))
	for _, rec := range records {
		dist := haversineKm(center.Lat, center.Lng, rec.Lat, rec.Lng)
		if dist > radiusKm {
			continue
		}
		hospitals = append(hospitals, models.Hospital{
			Name:        rec.Name,
			Address:     rec.Address,
			Lat:         rec.Lat,
			Lng:         rec.Lng,
			DistanceKm:  dist,
			Distance:    fmt.Sprintf("%.1f km", dist),
			Phone:       rec.Phone,
			Specialties: rec.Specialties,
			Emergency:   rec.Emergency,
			Navigation:  pickNavigation(rec),
		})
	}

	sort.Slice(hospitals, func(i, j int) bool {
		if hospitals[i].DistanceKm != hospitals[j].DistanceKm {
			return hospitals[i].DistanceKm < hospitals[j].DistanceKm
		}
		return hospitals[i].Name < hospitals[j].Name
	})

	return hospitals
}

// pickNavigation resolves the tagged navigation-link choice: a localized
// Mappls URL wins over the generic provider; with neither present, a
// directions URL is derived from the coordinate.
func pickNavigation(rec facilityRecord) models.NavigationLink {
	if rec.MapplsURL != "" {
		return models.NavigationLink{Provider: models.NavProviderMappls, URL: rec.MapplsURL}
	}
	if rec.DirectionsURL != "" {
		return models.NavigationLink{Provider: models.NavProviderGMaps, URL: rec.DirectionsURL}
	}
	return models.NavigationLink{
		Provider: models.NavProviderGMaps,
		URL:      fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%f,%f", rec.Lat, rec.Lng),
	}
}

func (l *HospitalLocator) cacheGet(ctx context.Context, key string) ([]models.Hospital, bool) {
	if l.redisClient == nil {
		return nil, false
	}
	data, err := l.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("Hospital cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var hospitals []models.Hospital
	if err := json.Unmarshal(data, &hospitals); err != nil {
		zap.L().Warn("Hospital cache entry corrupt, ignoring", zap.Error(err))
		return nil, false
	}
	return hospitals, true
}

func (l *HospitalLocator) cacheSet(ctx context.Context, key string, hospitals []models.Hospital) {
	if l.redisClient == nil {
		return
	}
	data, err := json.Marshal(hospitals)
	if err != nil {
		return
	}
	if err := l.redisClient.Set(ctx, key, data, hospitalCacheTTL).Err(); err != nil {
		zap.L().Warn("Hospital cache write failed", zap.Error(err))
	}
}

// haversineKm computes the great-circle distance between two coordinates
// in kilometers.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
