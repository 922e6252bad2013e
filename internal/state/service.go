package state

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// Service validates and persists browser session state. Documents are
// rejected on write when structurally invalid, so workers never restore a
// half-broken session.
type Service struct {
	storage interfaces.StateStorage
	logger  arbor.ILogger
}

// NewService creates a browser-state service
func NewService(storage interfaces.StateStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// SaveState validates a raw state document and stores it for the site.
// Returns the parsed state on success.
func (s *Service) SaveState(ctx context.Context, siteID string, doc []byte) (*models.BrowserState, error) {
	if siteID == "" {
		return nil, fmt.Errorf("site_id is required")
	}

	state, err := models.ParseBrowserState(siteID, doc)
	if err != nil {
		s.logger.Warn().Err(err).Str("site_id", siteID).Msg("Rejected invalid browser state")
		return nil, err
	}

	normalized, err := state.ToJSON()
	if err != nil {
		return nil, err
	}
	if err := s.storage.SaveState(ctx, siteID, normalized, state.UpdatedAt); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("site_id", siteID).
		Int("cookies", len(state.Cookies)).
		Msg("Browser state saved")
	return state, nil
}

// GetState retrieves and parses the state for a site. Returns (nil, nil)
// when the site has no stored state; a corrupt stored document is logged and
// reads the same as none.
func (s *Service) GetState(ctx context.Context, siteID string) (*models.BrowserState, error) {
	doc, err := s.storage.GetState(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	state, err := models.ParseBrowserState(siteID, doc)
	if err != nil {
		s.logger.Warn().Err(err).Str("site_id", siteID).Msg("Stored browser state is invalid, reading as none")
		return nil, nil
	}
	return state, nil
}

// DeleteState removes the stored state for a site. Returns false when there
// was none.
func (s *Service) DeleteState(ctx context.Context, siteID string) (bool, error) {
	deleted, err := s.storage.DeleteState(ctx, siteID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info().Str("site_id", siteID).Msg("Browser state deleted")
	}
	return deleted, nil
}

// ListStates returns the parsed state of every site that has one. Corrupt
// documents are skipped rather than failing the listing.
func (s *Service) ListStates(ctx context.Context) (map[string]*models.BrowserState, error) {
	docs, err := s.storage.ListStates(ctx)
	if err != nil {
		return nil, err
	}

	states := make(map[string]*models.BrowserState, len(docs))
	for siteID, doc := range docs {
		state, err := models.ParseBrowserState(siteID, doc)
		if err != nil {
			s.logger.Warn().Err(err).Str("site_id", siteID).Msg("Skipping invalid stored browser state")
			continue
		}
		states[siteID] = state
	}
	return states, nil
}
