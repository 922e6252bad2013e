package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrowserState_ValidDocument(t *testing.T) {
	doc := []byte(`{
		"cookies": {
			"session": {"value": "abc123", "domain": ".example.org", "path": "/", "http_only": true}
		},
		"local_storage": {"theme": "dark"},
		"session_storage": {}
	}`)

	state, err := ParseBrowserState("alpha", doc)
	require.NoError(t, err)

	assert.Equal(t, "alpha", state.SiteID)
	require.Contains(t, state.Cookies, "session")
	assert.Equal(t, "abc123", state.Cookies["session"].Value)
	assert.Equal(t, ".example.org", state.Cookies["session"].Domain)
	assert.True(t, state.Cookies["session"].HTTPOnly)
	assert.Equal(t, "dark", state.LocalStorage["theme"])
}

func TestParseBrowserState_RejectsNonStringCookieValue(t *testing.T) {
	doc := []byte(`{
		"cookies": {
			"session": {"value": 12345, "domain": ".example.org", "path": "/"}
		}
	}`)

	_, err := ParseBrowserState("alpha", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value")
}

func TestParseBrowserState_RejectsMissingRequiredAttributes(t *testing.T) {
	for _, missing := range []string{"value", "domain", "path"} {
		docs := map[string]string{
			"value":  `{"cookies": {"c": {"domain": ".x.org", "path": "/"}}}`,
			"domain": `{"cookies": {"c": {"value": "v", "path": "/"}}}`,
			"path":   `{"cookies": {"c": {"value": "v", "domain": ".x.org"}}}`,
		}
		_, err := ParseBrowserState("alpha", []byte(docs[missing]))
		require.Error(t, err, "expected rejection when %s is missing", missing)
		assert.Contains(t, err.Error(), missing)
	}
}

func TestParseBrowserState_RejectsNonStringStorageValue(t *testing.T) {
	doc := []byte(`{"local_storage": {"count": 3}}`)

	_, err := ParseBrowserState("alpha", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local_storage")
}

func TestParseBrowserState_RejectsNonObject(t *testing.T) {
	_, err := ParseBrowserState("alpha", []byte(`[1, 2, 3]`))
	assert.Error(t, err)
}

func TestParseBrowserState_EmptyDocument(t *testing.T) {
	state, err := ParseBrowserState("alpha", []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, state.Cookies)
	assert.Empty(t, state.LocalStorage)
	assert.Empty(t, state.SessionStorage)
}

func TestBrowserState_RoundTrip(t *testing.T) {
	state := NewBrowserState("alpha")
	state.Cookies["uid"] = Cookie{Value: "42", Domain: ".example.org", Path: "/"}
	state.LocalStorage["lang"] = "en"

	doc, err := state.ToJSON()
	require.NoError(t, err)

	parsed, err := ParseBrowserState("alpha", doc)
	require.NoError(t, err)
	assert.Equal(t, state.Cookies["uid"], parsed.Cookies["uid"])
	assert.Equal(t, "en", parsed.LocalStorage["lang"])
}
