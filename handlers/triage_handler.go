package handlers

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aidly-labs/aidly-go-sdk/models"
	"github.com/aidly-labs/aidly-go-sdk/utils"
)

// Collaborator contracts. Production wires GeminiClient and
// HospitalLocator; tests substitute mocks.
type InjuryAnalyzer interface {
	AnalyzeInjury(ctx context.Context, img *models.InjuryImage) (*models.AnalysisResult, error)
}

type GuidanceGenerator interface {
	GenerateFirstAid(ctx context.Context, result *models.AnalysisResult) (*models.FirstAidGuidance, error)
}

type HospitalSearcher interface {
	FindNearby(ctx context.Context, center models.UserLocation, radiusKm float64) ([]models.Hospital, error)
}

var (
	ErrNoImage            = errors.New("no image uploaded yet")
	ErrAnalysisInProgress = errors.New("an analysis is already in progress")
	ErrRadiusOutOfRange   = errors.New("search radius must be between 1 and 20 km")
)

// TriageSession owns all pipeline state for one user session and enforces
// the stage transitions. Chat history lives in ChatHandler and survives
// every pipeline transition, including Reset.
type TriageSession struct {
	ID     string
	Logger *zap.Logger

	analyzer  InjuryAnalyzer
	generator GuidanceGenerator
	locator   HospitalSearcher

	mu        sync.Mutex
	state     models.SessionState
	image     *models.InjuryImage
	analysis  *models.AnalysisResult
	guidance  *models.FirstAidGuidance
	hospitals []models.Hospital
	location  models.UserLocation
	analyzing bool
}

func NewTriageSession(id string, analyzer InjuryAnalyzer, generator GuidanceGenerator, locator HospitalSearcher) *TriageSession {
	return &TriageSession{
		ID:        id,
		Logger:    zap.L().With(zap.String("session_id", id)),
		analyzer:  analyzer,
		generator: generator,
		locator:   locator,
		state:     models.StateIdle,
		location:  models.DefaultLocation(),
	}
}

func (s *TriageSession) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UploadImage normalizes a raw upload and installs it as the session
// image, discarding any prior analysis and guidance. On failure nothing
// changes: the previous image, if any, is retained.
func (s *TriageSession) UploadImage(raw []byte) (*models.InjuryImage, error) {
	img, err := utils.NormalizeImage(raw)
	if err != nil {
		s.Logger.Warn("Image rejected", zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analyzing {
		return nil, ErrAnalysisInProgress
	}
	s.image = img
	s.analysis = nil
	s.guidance = nil
	s.state = models.StateImageReady

	s.Logger.Info("Image ready",
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.String("mode", img.ColorMode))
	return img, nil
}

// Analyze runs the analyzer and guidance generator on the current image.
// Single-flight: a second call while one is pending is rejected. Any
// upstream failure reverts to ImageReady with the image retained, so the
// same image can be retried without re-uploading.
func (s *TriageSession) Analyze(ctx context.Context) (*models.AnalysisResult, *models.FirstAidGuidance, error) {
	s.mu.Lock()
	if s.image == nil {
		s.mu.Unlock()
		return nil, nil, ErrNoImage
	}
	if s.analyzing {
		s.mu.Unlock()
		return nil, nil, ErrAnalysisInProgress
	}
	s.analyzing = true
	s.state = models.StateAnalyzing
	img := s.image
	s.mu.Unlock()

	result, err := s.analyzer.AnalyzeInjury(ctx, img)
	if err != nil {
		s.revertToImageReady()
		s.Logger.Error("Injury analysis failed", zap.Error(err))
		return nil, nil, err
	}

	guidance, err := s.generator.GenerateFirstAid(ctx, result)
	if err != nil {
		s.revertToImageReady()
		s.Logger.Error("Guidance generation failed", zap.Error(err))
		return nil, nil, err
	}

	s.mu.Lock()
	s.analysis = result
	s.guidance = guidance
	if result.Escalated() {
		// Derived transition: the hospital search itself still waits
		// for an explicit user action.
		s.state = models.StateEscalated
	} else {
		s.state = models.StateAnalysisReady
	}
	s.analyzing = false
	s.mu.Unlock()

	s.Logger.Info("Analysis complete",
		zap.String("condition", result.Condition),
		zap.Int("severity", result.Severity),
		zap.Bool("escalated", result.Escalated()))
	return result, guidance, nil
}

func (s *TriageSession) revertToImageReady() {
	s.mu.Lock()
	s.state = models.StateImageReady
	s.analyzing = false
	s.mu.Unlock()
}

// SetLocation records an explicit, successful geolocation event. Anything
// else (denial, timeout, unavailability) leaves the default in place.
func (s *TriageSession) SetLocation(lat, lng float64) {
	s.mu.Lock()
	s.location = models.UserLocation{Lat: lat, Lng: lng}
	s.mu.Unlock()
	s.Logger.Info("User location updated", zap.Float64("lat", lat), zap.Float64("lng", lng))
}

func (s *TriageSession) Location() models.UserLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// FindHospitals validates the radius at this boundary, runs the search
// from the session location, and replaces the hospital batch on success.
// On failure the prior batch is left untouched. Reachable both after
// escalation and directly, with identical behavior.
func (s *TriageSession) FindHospitals(ctx context.Context, radiusKm float64) ([]models.Hospital, error) {
	if radiusKm < models.MinRadiusKm || radiusKm > models.MaxRadiusKm {
		return nil, ErrRadiusOutOfRange
	}

	center := s.Location()
	hospitals, err := s.locator.FindNearby(ctx, center, radiusKm)
	if err != nil {
		s.Logger.Error("Hospital search failed", zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.hospitals = hospitals
	s.state = models.StateHospitalsReady
	s.mu.Unlock()

	s.Logger.Info("Hospitals found", zap.Int("count", len(hospitals)), zap.Float64("radius_km", radiusKm))
	return hospitals, nil
}

// Reset clears the pipeline back to Idle. The user location and the chat
// history are deliberately kept: neither belongs to the pipeline stages.
func (s *TriageSession) Reset() {
	s.mu.Lock()
	s.image = nil
	s.analysis = nil
	s.guidance = nil
	s.hospitals = nil
	s.state = models.StateIdle
	s.analyzing = false
	s.mu.Unlock()
	s.Logger.Info("Session reset")
}

func (s *TriageSession) Image() *models.InjuryImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

func (s *TriageSession) Analysis() *models.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysis
}

func (s *TriageSession) Guidance() *models.FirstAidGuidance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guidance
}

func (s *TriageSession) Hospitals() []models.Hospital {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hospitals
}
