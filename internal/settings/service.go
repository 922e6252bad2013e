package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// Service is the settings provider. The row is created lazily on first read,
// backfilled from environment variables, and cached until the next write.
type Service struct {
	storage interfaces.SettingsStorage
	logger  arbor.ILogger

	mu     sync.RWMutex
	cached *models.Settings
}

// NewService creates the settings provider
func NewService(storage interfaces.SettingsStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// Current returns the live settings row, creating it on first use
func (s *Service) Current(ctx context.Context) (*models.Settings, error) {
	s.mu.RLock()
	if s.cached != nil {
		cached := *s.cached
		s.mu.RUnlock()
		return &cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		cached := *s.cached
		return &cached, nil
	}

	settings, err := s.storage.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = models.NewDefaultSettings()
		if err := s.storage.SaveSettings(ctx, settings); err != nil {
			return nil, fmt.Errorf("failed to initialize settings: %w", err)
		}
		s.logger.Info().Msg("Settings row initialized from defaults")
	}

	s.cached = settings
	cached := *settings
	return &cached, nil
}

// Update replaces the whole settings row
func (s *Service) Update(ctx context.Context, settings *models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.SaveSettings(ctx, settings); err != nil {
		return err
	}
	s.cached = settings
	return nil
}

// Get reads one settings value by key
func (s *Service) Get(ctx context.Context, key string) (interface{}, error) {
	settings, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}

	switch key {
	case models.SettingCrawlerMaxConcurrency:
		return settings.CrawlerMaxConcurrency, nil
	case models.SettingTaskTimeout:
		return settings.TaskTimeout, nil
	case models.SettingLoginMaxRetry:
		return settings.LoginMaxRetry, nil
	case models.SettingStoragePath:
		return settings.StoragePath, nil
	case models.SettingCrawlerConfigPath:
		return settings.CrawlerConfigPath, nil
	case models.SettingCrawlerCredentialPath:
		return settings.CrawlerCredentialPath, nil
	case models.SettingHeadless:
		return settings.Headless, nil
	case models.SettingFreshLogin:
		return settings.FreshLogin, nil
	case models.SettingCaptchaDefaultMethod:
		return settings.CaptchaDefaultMethod, nil
	case models.SettingCaptchaSkipSites:
		return settings.CaptchaSkipSites, nil
	case models.SettingCheckinSites:
		return settings.CheckinSites, nil
	case models.SettingEnableCheckin:
		return settings.EnableCheckin, nil
	case models.SettingChromePath:
		return settings.ChromePath, nil
	case models.SettingLogLevel:
		return settings.LogLevel, nil
	}
	return nil, fmt.Errorf("unknown settings key %q", key)
}

// Set writes one settings value by key, rejecting values of the wrong type
// or out of range.
func (s *Service) Set(ctx context.Context, key string, value interface{}) error {
	settings, err := s.Current(ctx)
	if err != nil {
		return err
	}

	switch key {
	case models.SettingCrawlerMaxConcurrency:
		n, err := asInt(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
		settings.CrawlerMaxConcurrency = n
	case models.SettingTaskTimeout:
		n, err := asInt(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
		settings.TaskTimeout = n
	case models.SettingLoginMaxRetry:
		n, err := asInt(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
		settings.LoginMaxRetry = n
	case models.SettingStoragePath:
		str, ok := value.(string)
		if !ok || str == "" {
			return fmt.Errorf("%s must be a non-empty string", key)
		}
		settings.StoragePath = str
	case models.SettingCrawlerConfigPath:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		settings.CrawlerConfigPath = str
	case models.SettingCrawlerCredentialPath:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		settings.CrawlerCredentialPath = str
	case models.SettingHeadless:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s must be a boolean", key)
		}
		settings.Headless = b
	case models.SettingFreshLogin:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s must be a boolean", key)
		}
		settings.FreshLogin = b
	case models.SettingCaptchaDefaultMethod:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		settings.CaptchaDefaultMethod = str
	case models.SettingCaptchaSkipSites:
		list, err := asStringList(value)
		if err != nil {
			return fmt.Errorf("%s must be a list of site IDs", key)
		}
		settings.CaptchaSkipSites = list
	case models.SettingCheckinSites:
		list, err := asStringList(value)
		if err != nil {
			return fmt.Errorf("%s must be a list of site IDs", key)
		}
		settings.CheckinSites = list
	case models.SettingEnableCheckin:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s must be a boolean", key)
		}
		settings.EnableCheckin = b
	case models.SettingChromePath:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		settings.ChromePath = str
	case models.SettingLogLevel:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		settings.LogLevel = str
	default:
		return fmt.Errorf("unknown settings key %q", key)
	}

	return s.Update(ctx, settings)
}

// asInt accepts the integer shapes JSON decoding produces
func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("not an integer")
}

// asStringList accepts []string and the []interface{} JSON decoding produces
func asStringList(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("not a string list")
			}
			list = append(list, str)
		}
		return list, nil
	}
	return nil, fmt.Errorf("not a string list")
}
