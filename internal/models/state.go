package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Cookie carries the attributes of one stored browser cookie.
// Value, Domain and Path are required; the rest mirror the CDP cookie params
// workers feed back through chromedp.
type Cookie struct {
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// BrowserState is the per-site session snapshot workers restore before a
// scrape: cookies plus web storage captured from a prior login.
type BrowserState struct {
	SiteID         string            `json:"site_id"`
	Cookies        map[string]Cookie `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewBrowserState returns an empty state for a site
func NewBrowserState(siteID string) *BrowserState {
	return &BrowserState{
		SiteID:         siteID,
		Cookies:        map[string]Cookie{},
		LocalStorage:   map[string]string{},
		SessionStorage: map[string]string{},
		UpdatedAt:      time.Now(),
	}
}

// ParseBrowserState decodes and structurally validates a raw state document.
// The generic pass catches defects the typed decode would silently coerce:
// non-string cookie values, non-string storage values, missing required
// cookie attributes.
func ParseBrowserState(siteID string, data []byte) (*BrowserState, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("browser state is not a JSON object: %w", err)
	}

	state := NewBrowserState(siteID)

	if cookiesRaw, ok := raw["cookies"]; ok && !isJSONNull(cookiesRaw) {
		var cookies map[string]map[string]interface{}
		if err := json.Unmarshal(cookiesRaw, &cookies); err != nil {
			return nil, fmt.Errorf("cookies must be an object of cookie records: %w", err)
		}
		for name, attrs := range cookies {
			cookie, err := parseCookie(name, attrs)
			if err != nil {
				return nil, err
			}
			state.Cookies[name] = *cookie
		}
	}

	for _, field := range []string{"local_storage", "session_storage"} {
		storageRaw, ok := raw[field]
		if !ok || isJSONNull(storageRaw) {
			continue
		}
		var generic map[string]interface{}
		if err := json.Unmarshal(storageRaw, &generic); err != nil {
			return nil, fmt.Errorf("%s must be an object: %w", field, err)
		}
		storage := make(map[string]string, len(generic))
		for key, value := range generic {
			str, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s value for key %q must be a string", field, key)
			}
			storage[key] = str
		}
		if field == "local_storage" {
			state.LocalStorage = storage
		} else {
			state.SessionStorage = storage
		}
	}

	if updatedRaw, ok := raw["updated_at"]; ok && !isJSONNull(updatedRaw) {
		var updated time.Time
		if err := json.Unmarshal(updatedRaw, &updated); err == nil {
			state.UpdatedAt = updated
		}
	}

	return state, nil
}

func parseCookie(name string, attrs map[string]interface{}) (*Cookie, error) {
	if attrs == nil {
		return nil, fmt.Errorf("cookie %q has no attributes", name)
	}

	cookie := &Cookie{}

	for _, required := range []string{"value", "domain", "path"} {
		raw, ok := attrs[required]
		if !ok {
			return nil, fmt.Errorf("cookie %q is missing required attribute %q", name, required)
		}
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("cookie %q attribute %q must be a string", name, required)
		}
		switch required {
		case "value":
			cookie.Value = str
		case "domain":
			cookie.Domain = str
		case "path":
			cookie.Path = str
		}
	}

	if expires, ok := attrs["expires"].(float64); ok {
		cookie.Expires = expires
	}
	if httpOnly, ok := attrs["http_only"].(bool); ok {
		cookie.HTTPOnly = httpOnly
	}
	if secure, ok := attrs["secure"].(bool); ok {
		cookie.Secure = secure
	}
	if sameSite, ok := attrs["same_site"].(string); ok {
		cookie.SameSite = sameSite
	}

	return cookie, nil
}

// Validate checks the structural invariants on an already-typed state
func (s *BrowserState) Validate() error {
	for name, cookie := range s.Cookies {
		if name == "" {
			return fmt.Errorf("cookie with empty name")
		}
		if cookie.Value == "" && cookie.Domain == "" && cookie.Path == "" {
			return fmt.Errorf("cookie %q has no attributes", name)
		}
		if cookie.Domain == "" {
			return fmt.Errorf("cookie %q is missing required attribute %q", name, "domain")
		}
		if cookie.Path == "" {
			return fmt.Errorf("cookie %q is missing required attribute %q", name, "path")
		}
	}
	return nil
}

// ToJSON serializes the state for storage
func (s *BrowserState) ToJSON() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal browser state: %w", err)
	}
	return data, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}
