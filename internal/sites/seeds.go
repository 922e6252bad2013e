package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/models"
)

// credentialsFileName is the single credentials document in the credential
// directory. The "global" entry applies to every site without its own entry.
const credentialsFileName = "credentials.json"

const globalCredentialKey = "global"

// loadSeeds reads <site_id>.json seed files from the config directory and
// inserts sites the store does not know yet. Caller holds the write lock.
func (r *Registry) loadSeeds(ctx context.Context) error {
	if r.configPath == "" {
		return nil
	}

	entries, err := os.ReadDir(r.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn().Str("path", r.configPath).Msg("Site config directory does not exist, skipping seed load")
			return nil
		}
		return fmt.Errorf("failed to read site config directory: %w", err)
	}

	credentials, err := r.loadCredentials()
	if err != nil {
		return err
	}

	siteStore := r.storage.SiteStorage()
	seeded := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if entry.Name() == credentialsFileName {
			continue
		}

		siteID := strings.TrimSuffix(entry.Name(), ".json")
		path := filepath.Join(r.configPath, entry.Name())

		config, err := r.readSeedFile(path, siteID)
		if err != nil {
			r.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping invalid site seed")
			continue
		}

		existing, err := siteStore.GetSiteConfig(ctx, siteID)
		if err != nil {
			return err
		}
		if existing != nil {
			// Store rows win over seed files after first load
			continue
		}

		update := &models.SiteSetupUpdate{
			NewSiteConfig:        config,
			NewCrawlerConfig:     models.NewDefaultCrawlerConfig(siteID),
			NewCrawlerCredential: credentialFor(credentials, siteID),
		}
		if err := siteStore.SaveSetupParts(ctx, siteID, update); err != nil {
			return fmt.Errorf("failed to seed site %s: %w", siteID, err)
		}
		seeded++
		r.logger.Info().Str("site_id", siteID).Msg("Site seeded from config file")
	}

	if seeded > 0 {
		r.logger.Info().Int("count", seeded).Msg("Site seed load complete")
	}
	return nil
}

// readSeedFile decodes and validates one site seed. The site ID always comes
// from the file name; an in-file site_id that disagrees is overridden.
func (r *Registry) readSeedFile(path, siteID string) (*models.SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.SiteConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	config.SiteID = siteID
	if config.SiteURL == "" {
		return nil, fmt.Errorf("seed for %s is missing site_url", siteID)
	}
	if err := r.validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("seed for %s failed validation: %w", siteID, err)
	}

	return &config, nil
}

// loadCredentials reads the credentials document. A missing file is not an
// error; sites then seed with empty credentials.
func (r *Registry) loadCredentials() (map[string]*models.CrawlerCredential, error) {
	if r.credentialPath == "" {
		return nil, nil
	}

	path := filepath.Join(r.credentialPath, credentialsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var credentials map[string]*models.CrawlerCredential
	if err := json.Unmarshal(data, &credentials); err != nil {
		return nil, fmt.Errorf("invalid credentials file: %w", err)
	}
	return credentials, nil
}

// credentialFor resolves the seed credential for a site: the per-site entry
// wins, then the global entry, then an empty enabled credential.
func credentialFor(credentials map[string]*models.CrawlerCredential, siteID string) *models.CrawlerCredential {
	var chosen *models.CrawlerCredential
	if cred, ok := credentials[siteID]; ok && cred != nil {
		chosen = cred
	} else if cred, ok := credentials[globalCredentialKey]; ok && cred != nil {
		chosen = cred
	}

	if chosen == nil {
		return &models.CrawlerCredential{SiteID: siteID, Enabled: true}
	}

	// Copy so the global entry is never mutated through a site
	cred := *chosen
	cred.SiteID = siteID
	return &cred
}
