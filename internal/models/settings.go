package models

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the single controller-wide settings row. The core reads it
// through the settings provider and never writes it directly.
type Settings struct {
	CrawlerMaxConcurrency int      `json:"crawler_max_concurrency"`
	TaskTimeout           int      `json:"task_timeout"` // seconds
	LoginMaxRetry         int      `json:"login_max_retry"`
	StoragePath           string   `json:"storage_path"`
	CrawlerConfigPath     string   `json:"crawler_config_path"`
	CrawlerCredentialPath string   `json:"crawler_credential_path"`
	Headless              bool     `json:"headless"`
	FreshLogin            bool     `json:"fresh_login"`
	CaptchaDefaultMethod  string   `json:"captcha_default_method"`
	CaptchaSkipSites      []string `json:"captcha_skip_sites"`
	CheckinSites          []string `json:"checkin_sites"`
	EnableCheckin         bool     `json:"enable_checkin"`
	ChromePath            string   `json:"chrome_path,omitempty"`
	LogLevel              string   `json:"log_level"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Settings keys accepted by Get/Set on the settings provider
const (
	SettingCrawlerMaxConcurrency = "crawler_max_concurrency"
	SettingTaskTimeout           = "task_timeout"
	SettingLoginMaxRetry         = "login_max_retry"
	SettingStoragePath           = "storage_path"
	SettingCrawlerConfigPath     = "crawler_config_path"
	SettingCrawlerCredentialPath = "crawler_credential_path"
	SettingHeadless              = "headless"
	SettingFreshLogin            = "fresh_login"
	SettingCaptchaDefaultMethod  = "captcha_default_method"
	SettingCaptchaSkipSites      = "captcha_skip_sites"
	SettingCheckinSites          = "checkin_sites"
	SettingEnableCheckin         = "enable_checkin"
	SettingChromePath            = "chrome_path"
	SettingLogLevel              = "log_level"
)

// NewDefaultSettings builds the settings row from environment variables,
// falling back to compiled defaults. Used once when the row is absent.
func NewDefaultSettings() *Settings {
	s := &Settings{
		CrawlerMaxConcurrency: 8,
		TaskTimeout:           240,
		LoginMaxRetry:         3,
		StoragePath:           "./storage",
		CrawlerConfigPath:     "./services/sites/implementations",
		CrawlerCredentialPath: "./services/sites/credentials",
		Headless:              true,
		FreshLogin:            false,
		CaptchaDefaultMethod:  "manual",
		CaptchaSkipSites:      []string{},
		CheckinSites:          []string{},
		EnableCheckin:         false,
		LogLevel:              "info",
		UpdatedAt:             time.Now(),
	}

	if v := os.Getenv("CRAWLER_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			s.CrawlerMaxConcurrency = n
		}
	}
	if v := os.Getenv("LOGIN_MAX_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.LoginMaxRetry = n
		}
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		s.StoragePath = v
	}
	if v := os.Getenv("CRAWLER_CONFIG_PATH"); v != "" {
		s.CrawlerConfigPath = v
	}
	if v := os.Getenv("CRAWLER_CREDENTIAL_PATH"); v != "" {
		s.CrawlerCredentialPath = v
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Headless = b
		}
	}
	if v := os.Getenv("ENABLE_CHECKIN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.EnableCheckin = b
		}
	}
	if v := os.Getenv("CHECKIN_SITES"); v != "" {
		s.CheckinSites = splitEnvList(v)
	}
	if v := os.Getenv("CAPTCHA_SKIP_SITES"); v != "" {
		s.CaptchaSkipSites = splitEnvList(v)
	}

	return s
}

func splitEnvList(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
