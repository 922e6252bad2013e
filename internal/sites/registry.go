package sites

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// Registry serves site setups assembled from the store. Seed files on disk
// feed first-run initialization only; after that the store is the source of
// truth and API updates flow through UpdateSiteSetup.
type Registry struct {
	storage        interfaces.StorageManager
	logger         arbor.ILogger
	validate       *validator.Validate
	configPath     string
	credentialPath string
	mu             sync.RWMutex
	initialized    bool
}

// NewRegistry creates a site registry over the given store. configPath holds
// one <site_id>.json seed per site, credentialPath holds credentials.json.
func NewRegistry(storage interfaces.StorageManager, logger arbor.ILogger, configPath, credentialPath string) *Registry {
	return &Registry{
		storage:        storage,
		logger:         logger,
		validate:       validator.New(),
		configPath:     configPath,
		credentialPath: credentialPath,
	}
}

// Initialize seeds the store from the config directory. Sites already present
// in the store are left untouched, so operator edits survive restarts.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadSeeds(ctx); err != nil {
		return err
	}
	r.initialized = true
	return nil
}

// Reload re-reads the seed directory, picking up newly added sites. Existing
// store rows still win.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadSeeds(ctx)
}

// GetSiteSetup assembles the full setup for a site. Returns (nil, nil) when
// the site is unknown.
func (r *Registry) GetSiteSetup(ctx context.Context, siteID string) (*models.SiteSetup, error) {
	siteStore := r.storage.SiteStorage()

	crawler, err := siteStore.GetCrawler(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if crawler == nil {
		return nil, nil
	}

	setup := &models.SiteSetup{
		SiteID:  siteID,
		Crawler: crawler,
	}

	if setup.SiteConfig, err = siteStore.GetSiteConfig(ctx, siteID); err != nil {
		return nil, err
	}
	if setup.CrawlerConfig, err = siteStore.GetCrawlerConfig(ctx, siteID); err != nil {
		return nil, err
	}
	if setup.CrawlerCredential, err = siteStore.GetCredential(ctx, siteID); err != nil {
		return nil, err
	}

	doc, err := r.storage.StateStorage().GetState(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		state, err := models.ParseBrowserState(siteID, doc)
		if err != nil {
			// A corrupt stored state must not make the whole setup unreadable
			r.logger.Warn().Err(err).Str("site_id", siteID).Msg("Stored browser state is invalid, omitting")
		} else {
			setup.BrowserState = state
		}
	}

	return setup, nil
}

// GetAvailableSites returns the IDs of sites that accept new tasks: a site
// config exists and the runtime config is enabled.
func (r *Registry) GetAvailableSites(ctx context.Context) ([]string, error) {
	siteStore := r.storage.SiteStorage()

	configs, err := siteStore.ListSiteConfigs(ctx)
	if err != nil {
		return nil, err
	}
	runtime, err := siteStore.ListCrawlerConfigs(ctx)
	if err != nil {
		return nil, err
	}

	enabled := make(map[string]bool, len(runtime))
	for _, cc := range runtime {
		enabled[cc.SiteID] = cc.Enabled
	}

	var available []string
	for _, sc := range configs {
		if enabled[sc.SiteID] {
			available = append(available, sc.SiteID)
		}
	}
	sort.Strings(available)
	return available, nil
}

// ListSiteSetups assembles the setup of every known site
func (r *Registry) ListSiteSetups(ctx context.Context) ([]*models.SiteSetup, error) {
	crawlers, err := r.storage.SiteStorage().ListCrawlers(ctx)
	if err != nil {
		return nil, err
	}

	setups := make([]*models.SiteSetup, 0, len(crawlers))
	for _, crawler := range crawlers {
		setup, err := r.GetSiteSetup(ctx, crawler.SiteID)
		if err != nil {
			return nil, err
		}
		if setup != nil {
			setups = append(setups, setup)
		}
	}
	return setups, nil
}

// UpdateSiteSetup applies a partial update. Nil parts are left untouched;
// provided parts are validated before any write happens.
func (r *Registry) UpdateSiteSetup(ctx context.Context, siteID string, update *models.SiteSetupUpdate) error {
	if siteID == "" {
		return fmt.Errorf("site_id is required")
	}
	if update == nil || update.Empty() {
		return fmt.Errorf("update for site %s carries no parts", siteID)
	}

	if sc := update.NewSiteConfig; sc != nil {
		sc.SiteID = siteID
		if err := r.validate.Struct(sc); err != nil {
			return fmt.Errorf("invalid site config for %s: %w", siteID, err)
		}
	}
	if bs := update.NewBrowserState; bs != nil {
		bs.SiteID = siteID
		if err := bs.Validate(); err != nil {
			return fmt.Errorf("invalid browser state for %s: %w", siteID, err)
		}
	}

	if err := r.storage.SiteStorage().SaveSetupParts(ctx, siteID, update); err != nil {
		return err
	}

	r.logger.Info().Str("site_id", siteID).Msg("Site setup updated")
	return nil
}

// DeleteSiteSetup removes a site and everything it owns. Returns false when
// the site was unknown.
func (r *Registry) DeleteSiteSetup(ctx context.Context, siteID string) (bool, error) {
	deleted, err := r.storage.SiteStorage().DeleteCrawler(ctx, siteID)
	if err != nil {
		return false, err
	}
	if deleted {
		r.logger.Info().Str("site_id", siteID).Msg("Site setup deleted")
	}
	return deleted, nil
}
