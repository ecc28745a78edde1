package handlers

import (
	"net/http"

	"chorus/internal/character"
)

// CharacterView is the public description of a character. Keys and base
// URLs are never exposed.
type CharacterView struct {
	Character string   `json:"character"`
	Name      string   `json:"name"`
	Alias     []string `json:"alias,omitempty"`
	Model     string   `json:"model"`
	Provider  string   `json:"provider"`
	Vendor    string   `json:"vendor"`
	Abilities []string `json:"abilities"`
	Available bool     `json:"available"`
	Retired   bool     `json:"retired,omitempty"`
}

// DescribeCharacters lists every configured character in configuration
// order.
func DescribeCharacters(registry *character.Registry) []CharacterView {
	profiles := registry.Describe()
	views := make([]CharacterView, 0, len(profiles))
	for _, p := range profiles {
		abilities := make([]string, 0, len(p.Abilities))
		for _, a := range p.Abilities {
			abilities = append(abilities, string(a))
		}
		views = append(views, CharacterView{
			Character: p.Character,
			Name:      p.Name,
			Alias:     p.Alias,
			Model:     p.Model,
			Provider:  p.Provider,
			Vendor:    p.DisplayProvider(),
			Abilities: abilities,
			Available: registry.IsAvailable(p.Character),
			Retired:   registry.Retired(p.Character),
		})
	}
	return views
}

// CharactersHandler serves GET /characters.
func CharactersHandler(registry *character.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		SendJSON(w, http.StatusOK, map[string]any{"characters": DescribeCharacters(registry)})
	}
}
