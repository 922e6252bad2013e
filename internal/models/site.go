package models

import (
	"time"
)

// Crawler is the per-site aggregate root. Deleting a crawler cascades to its
// site config, runtime config, credential, browser state, tasks and results.
type Crawler struct {
	SiteID        string     `json:"site_id"`
	IsLoggedIn    bool       `json:"is_logged_in"`
	LastLoginTime *time.Time `json:"last_login_time,omitempty"`
	TotalTasks    int        `json:"total_tasks"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewDefaultCrawler synthesizes a crawler row for a site that has config but
// no aggregate root yet.
func NewDefaultCrawler(siteID string) *Crawler {
	now := time.Now()
	return &Crawler{
		SiteID:     siteID,
		IsLoggedIn: false,
		TotalTasks: 0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// LoginConfig describes how to authenticate against a site
type LoginConfig struct {
	LoginURL       string            `json:"login_url,omitempty"`
	UsernameField  string            `json:"username_field,omitempty"`
	PasswordField  string            `json:"password_field,omitempty"`
	SubmitSelector string            `json:"submit_selector,omitempty"`
	SuccessCheck   string            `json:"success_check,omitempty"`
	CaptchaMethod  string            `json:"captcha_method,omitempty"`
	ExtraFields    map[string]string `json:"extra_fields,omitempty"`
}

// ExtractRule describes one value to pull from a page
type ExtractRule struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"` // empty means text content
	Regex    string `json:"regex,omitempty"`
	Page     string `json:"page,omitempty"` // relative URL of the page carrying the value
}

// CheckinConfig describes the daily check-in action for a site
type CheckinConfig struct {
	Enabled        bool   `json:"enabled"`
	CheckinURL     string `json:"checkin_url,omitempty"`
	ButtonSelector string `json:"button_selector,omitempty"`
	AlreadyCheck   string `json:"already_check,omitempty"` // selector/text present when already checked in
}

// SiteConfig describes how to scrape a site. The structured subfields are
// serialized as JSON documents at the store boundary.
type SiteConfig struct {
	SiteID        string         `json:"site_id" validate:"required"`
	SiteURL       string         `json:"site_url" validate:"required,url"`
	LoginConfig   *LoginConfig   `json:"login_config,omitempty"`
	ExtractRules  []ExtractRule  `json:"extract_rules,omitempty"`
	CheckinConfig *CheckinConfig `json:"checkin_config,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CrawlerConfig holds the per-site runtime knobs
type CrawlerConfig struct {
	SiteID        string    `json:"site_id"`
	Enabled       bool      `json:"enabled"`
	UseProxy      bool      `json:"use_proxy"`
	ProxyURL      string    `json:"proxy_url,omitempty"`
	FreshLogin    bool      `json:"fresh_login"`
	CaptchaSkip   bool      `json:"captcha_skip"`
	Headless      bool      `json:"headless"`
	LoginMaxRetry int       `json:"login_max_retry"`
	Timeout       int       `json:"timeout"` // seconds, 0 means settings default
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewDefaultCrawlerConfig returns the runtime knobs applied to a freshly
// seeded site.
func NewDefaultCrawlerConfig(siteID string) *CrawlerConfig {
	return &CrawlerConfig{
		SiteID:        siteID,
		Enabled:       true,
		Headless:      true,
		LoginMaxRetry: 3,
		UpdatedAt:     time.Now(),
	}
}

// CrawlerCredential holds per-site authentication material
type CrawlerCredential struct {
	SiteID        string    `json:"site_id"`
	Username      string    `json:"username,omitempty"`
	Password      string    `json:"password,omitempty"`
	Authorization string    `json:"authorization,omitempty"`
	APIKey        string    `json:"apikey,omitempty"`
	ManualCookies string    `json:"manual_cookies,omitempty"`
	Enabled       bool      `json:"enabled"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SiteSetup is the composite consumed by workers. It is assembled on read and
// never persisted directly; callers must treat snapshots as immutable.
type SiteSetup struct {
	SiteID            string             `json:"site_id"`
	Crawler           *Crawler           `json:"crawler,omitempty"`
	SiteConfig        *SiteConfig        `json:"site_config,omitempty"`
	CrawlerConfig     *CrawlerConfig     `json:"crawler_config,omitempty"`
	CrawlerCredential *CrawlerCredential `json:"crawler_credential,omitempty"`
	BrowserState      *BrowserState      `json:"browser_state,omitempty"`
}

// Enabled reports whether the site accepts new tasks
func (s *SiteSetup) Enabled() bool {
	return s.CrawlerConfig != nil && s.CrawlerConfig.Enabled
}

// SiteSetupUpdate carries the parts of a partial registry update. Nil fields
// are left untouched.
type SiteSetupUpdate struct {
	NewCrawler           *Crawler           `json:"new_crawler,omitempty"`
	NewSiteConfig        *SiteConfig        `json:"new_site_config,omitempty"`
	NewCrawlerConfig     *CrawlerConfig     `json:"new_crawler_config,omitempty"`
	NewCrawlerCredential *CrawlerCredential `json:"new_crawler_credential,omitempty"`
	NewBrowserState      *BrowserState      `json:"new_browser_state,omitempty"`
}

// Empty returns true when the update carries no parts
func (u *SiteSetupUpdate) Empty() bool {
	return u.NewCrawler == nil && u.NewSiteConfig == nil && u.NewCrawlerConfig == nil &&
		u.NewCrawlerCredential == nil && u.NewBrowserState == nil
}
