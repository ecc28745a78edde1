package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/character"
	"chorus/internal/provider"
)

func TestCharactersHandler(t *testing.T) {
	registry := character.NewRegistry([]character.Profile{
		{Character: "kimi", Name: "Kimi", Model: "moonshot-v1", Provider: "moonshot", BaseURL: "https://api.moonshot.test/v1", APIKey: "sk-secret", Abilities: []character.Ability{character.AbilityChat}},
		{Character: "old", Name: "Old", Model: "legacy", APIKey: "sk-old", Retired: true, Abilities: []character.Ability{character.AbilityChat}},
	}, func(character.Profile) (provider.Provider, error) {
		return nil, errors.New("offline")
	})

	w := httptest.NewRecorder()
	CharactersHandler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/characters", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-secret")

	var resp struct {
		Characters []CharacterView `json:"characters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Characters)

	var kimi CharacterView
	for _, c := range resp.Characters {
		if c.Character == "kimi" {
			kimi = c
		}
	}
	assert.Equal(t, "Kimi", kimi.Name)
	assert.Equal(t, "moonshot-v1", kimi.Model)
	assert.Equal(t, []string{"chat"}, kimi.Abilities)
	assert.Equal(t, "moonshot", kimi.Provider)
	assert.Equal(t, "北京月之暗面", kimi.Vendor)
	assert.True(t, kimi.Available)

	for _, c := range resp.Characters {
		if c.Character == "old" {
			assert.True(t, c.Retired)
			assert.False(t, c.Available)
		}
	}
}
