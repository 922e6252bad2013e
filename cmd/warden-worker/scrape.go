package main

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/wardenhq/warden/internal/models"
)

// scrapeSession drives one browser run for a site
type scrapeSession struct {
	setup    *models.SiteSetup
	settings *models.Settings
}

// run restores the stored session, scrapes the configured pages and returns
// the extracted values plus the refreshed browser state.
func (s *scrapeSession) run(ctx context.Context) (map[string]string, *models.BrowserState, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if s.settings.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.settings.ChromePath))
	}

	headless := s.settings.Headless
	if s.setup.CrawlerConfig != nil {
		headless = s.setup.CrawlerConfig.Headless
	}
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if s.setup.CrawlerConfig != nil && s.setup.CrawlerConfig.UseProxy && s.setup.CrawlerConfig.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(s.setup.CrawlerConfig.ProxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := s.restoreSession(browserCtx); err != nil {
		return nil, nil, fmt.Errorf("failed to restore session: %w", err)
	}

	values, err := s.extract(browserCtx)
	if err != nil {
		return nil, nil, err
	}

	state, err := s.captureState(browserCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to capture session: %w", err)
	}

	return values, state, nil
}

// restoreSession loads stored cookies into the browser before navigation
func (s *scrapeSession) restoreSession(ctx context.Context) error {
	if s.setup.BrowserState == nil || len(s.setup.BrowserState.Cookies) == 0 {
		return nil
	}

	cookies := s.setup.BrowserState.Cookies
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for name, cookie := range cookies {
			param := network.SetCookie(name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				WithHTTPOnly(cookie.HTTPOnly).
				WithSecure(cookie.Secure)
			if cookie.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(cookie.Expires), 0))
				param = param.WithExpires(&expires)
			}
			if err := param.Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
}

// extract navigates the configured pages and pulls every extract rule
func (s *scrapeSession) extract(ctx context.Context) (map[string]string, error) {
	if s.setup.SiteConfig == nil {
		return nil, fmt.Errorf("site %s has no site config", s.setup.SiteID)
	}

	values := make(map[string]string)

	// Group rules by the page that carries them; empty page means site root
	pages := make(map[string][]models.ExtractRule)
	for _, rule := range s.setup.SiteConfig.ExtractRules {
		pages[rule.Page] = append(pages[rule.Page], rule)
	}
	if len(pages) == 0 {
		pages[""] = nil
	}

	for page, rules := range pages {
		target, err := resolvePage(s.setup.SiteConfig.SiteURL, page)
		if err != nil {
			return nil, err
		}

		if err := chromedp.Run(ctx,
			chromedp.Navigate(target),
			chromedp.WaitReady("body", chromedp.ByQuery),
		); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", target, err)
		}

		for _, rule := range rules {
			var raw string
			var action chromedp.Action
			if rule.Attr != "" {
				var ok bool
				action = chromedp.AttributeValue(rule.Selector, rule.Attr, &raw, &ok, chromedp.ByQuery)
			} else {
				action = chromedp.Text(rule.Selector, &raw, chromedp.ByQuery, chromedp.NodeVisible)
			}
			if err := chromedp.Run(ctx, action); err != nil {
				return nil, fmt.Errorf("rule %q failed on %s: %w", rule.Name, target, err)
			}

			if rule.Regex != "" {
				re, err := regexp.Compile(rule.Regex)
				if err != nil {
					return nil, fmt.Errorf("rule %q has invalid regex: %w", rule.Name, err)
				}
				if match := re.FindStringSubmatch(raw); len(match) > 1 {
					raw = match[1]
				} else if len(match) == 1 {
					raw = match[0]
				}
			}
			values[rule.Name] = strings.TrimSpace(raw)
		}
	}

	return values, nil
}

// captureState snapshots cookies and web storage after the scrape
func (s *scrapeSession) captureState(ctx context.Context) (*models.BrowserState, error) {
	state := models.NewBrowserState(s.setup.SiteID)

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			for _, cookie := range cookies {
				state.Cookies[cookie.Name] = models.Cookie{
					Value:    cookie.Value,
					Domain:   cookie.Domain,
					Path:     cookie.Path,
					Expires:  cookie.Expires,
					HTTPOnly: cookie.HTTPOnly,
					Secure:   cookie.Secure,
					SameSite: string(cookie.SameSite),
				}
			}
			return nil
		}),
		chromedp.Evaluate(`Object.fromEntries(Object.entries(localStorage))`, &state.LocalStorage),
		chromedp.Evaluate(`Object.fromEntries(Object.entries(sessionStorage))`, &state.SessionStorage),
	)
	if err != nil {
		return nil, err
	}

	state.UpdatedAt = time.Now()
	return state, nil
}

// buildResult maps extracted values onto the result payload
func buildResult(taskID, siteID string, values map[string]string) *models.ResultCreate {
	create := &models.ResultCreate{
		TaskID:    taskID,
		SiteID:    siteID,
		Username:  values["username"],
		UserClass: values["user_class"],
		UID:       values["uid"],
	}

	create.Upload = parseBytes(values["upload"])
	create.Download = parseBytes(values["download"])
	create.Bonus = parseFloat(values["bonus"])
	create.SeedingCount = int(parseFloat(values["seeding_count"]))
	create.SeedingSize = parseBytes(values["seeding_size"])

	if raw, ok := values["ratio"]; ok {
		ratio := parseFloat(raw)
		create.Ratio = &ratio
	}
	return create
}

var bytesUnits = map[string]int64{
	"B":   1,
	"KB":  1 << 10,
	"KIB": 1 << 10,
	"MB":  1 << 20,
	"MIB": 1 << 20,
	"GB":  1 << 30,
	"GIB": 1 << 30,
	"TB":  1 << 40,
	"TIB": 1 << 40,
	"PB":  1 << 50,
	"PIB": 1 << 50,
}

// parseBytes accepts "123456" or human sizes like "1.5 TiB"
func parseBytes(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}

	fields := strings.Fields(strings.ReplaceAll(raw, ",", ""))
	if len(fields) != 2 {
		return 0
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	unit, ok := bytesUnits[strings.ToUpper(fields[1])]
	if !ok {
		return 0
	}
	return int64(value * float64(unit))
}

// parseFloat strips separators and parses leniently, zero on failure
func parseFloat(raw string) float64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}

// resolvePage joins a relative page path onto the site URL
func resolvePage(siteURL, page string) (string, error) {
	base, err := url.Parse(siteURL)
	if err != nil {
		return "", fmt.Errorf("invalid site URL %q: %w", siteURL, err)
	}
	if page == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("invalid page %q: %w", page, err)
	}
	return base.ResolveReference(ref).String(), nil
}
