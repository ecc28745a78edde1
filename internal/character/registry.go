package character

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"chorus/internal/provider"
	"chorus/internal/provider/openai"
)

// ErrUnknownCharacter is returned for a character with no usable profile.
var ErrUnknownCharacter = errors.New("unknown character")

// Connector creates the backend client for a profile.
type Connector func(Profile) (provider.Provider, error)

// OpenAIConnector connects every profile through the OpenAI-compatible client.
func OpenAIConnector(p Profile) (provider.Provider, error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("character %s: base_url is empty", p.Character)
	}
	return openai.New(openai.Config{
		Name:                p.Character,
		BaseURL:             p.BaseURL,
		APIKey:              p.APIKey,
		Model:               p.Model,
		Headers:             p.Meta.DefaultHeaders,
		Timeout:             p.Traits.Timeout,
		StringifyToolParams: p.Traits.StringifyToolParams,
	}), nil
}

// Registry maps character ids to their profiles and lazily connected
// backends. It is immutable after construction apart from the client pool.
type Registry struct {
	order    []string
	profiles map[string][]Profile
	byKey    map[string]Profile
	pool     *provider.Pool
}

// NewRegistry indexes profiles by character. Profiles of one character are
// kept sorted by priority, highest first.
func NewRegistry(profiles []Profile, connect Connector) *Registry {
	r := &Registry{
		profiles: make(map[string][]Profile),
		byKey:    make(map[string]Profile),
	}
	for _, p := range profiles {
		if p.Character == "" {
			continue
		}
		if _, seen := r.profiles[p.Character]; !seen {
			r.order = append(r.order, p.Character)
		}
		r.profiles[p.Character] = append(r.profiles[p.Character], p)
		r.byKey[p.Key()] = p
	}
	for c, list := range r.profiles {
		slices.SortStableFunc(list, func(a, b Profile) int { return b.Priority - a.Priority })
		r.profiles[c] = list
	}
	r.pool = provider.NewPool(func(key string) (provider.Provider, error) {
		p, ok := r.byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: profile %s", ErrUnknownCharacter, key)
		}
		return connect(p)
	})
	return r
}

// All returns every configured character id in configuration order.
func (r *Registry) All() []string {
	return slices.Clone(r.order)
}

// Characters returns the ids of characters that currently have a usable
// profile, in configuration order.
func (r *Registry) Characters() []string {
	out := make([]string, 0, len(r.order))
	for _, c := range r.order {
		if r.IsAvailable(c) {
			out = append(out, c)
		}
	}
	return out
}

// Profiles returns the usable profiles of a character, highest priority first.
func (r *Registry) Profiles(char string) []Profile {
	var out []Profile
	for _, p := range r.profiles[char] {
		if p.Usable() {
			out = append(out, p)
		}
	}
	return out
}

// Primary returns the highest priority usable profile.
func (r *Registry) Primary(char string) (Profile, bool) {
	list := r.Profiles(char)
	if len(list) == 0 {
		return Profile{}, false
	}
	return list[0], true
}

// Secondary returns the fallback profile used after the primary failed.
func (r *Registry) Secondary(char string) (Profile, bool) {
	list := r.Profiles(char)
	if len(list) < 2 {
		return Profile{}, false
	}
	return list[1], true
}

// IsAvailable reports whether the character has at least one usable profile.
func (r *Registry) IsAvailable(char string) bool {
	return len(r.Profiles(char)) > 0
}

// Retired reports whether every configured profile of the character is
// retired. Retired characters stay readable in old rooms but are never
// offered again.
func (r *Registry) Retired(char string) bool {
	list := r.profiles[char]
	if len(list) == 0 {
		return true
	}
	for _, p := range list {
		if !p.Retired {
			return false
		}
	}
	return true
}

// Name returns the display name of a character, or its id when unknown.
func (r *Registry) Name(char string) string {
	if list := r.profiles[char]; len(list) > 0 {
		return list[0].Name
	}
	return char
}

// Lookup finds the character named by text through display name, alias or id.
func (r *Registry) Lookup(text string) (string, bool) {
	t := strings.TrimSpace(text)
	for _, c := range r.order {
		for _, p := range r.profiles[c] {
			if p.Matches(t) {
				return c, true
			}
		}
	}
	return "", false
}

// Describe returns a representative profile for every configured character,
// usable or not, for listings.
func (r *Registry) Describe() []Profile {
	out := make([]Profile, 0, len(r.order))
	for _, c := range r.order {
		if p, ok := r.Primary(c); ok {
			out = append(out, p)
			continue
		}
		out = append(out, r.profiles[c][0])
	}
	return out
}

// Provider returns the connected backend for a profile.
func (r *Registry) Provider(p Profile) (provider.Provider, error) {
	if _, ok := r.byKey[p.Key()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, p.Character)
	}
	return r.pool.Get(p.Key())
}

// Use registers a ready backend for a profile, replacing the connector's.
// Tests use it to plug in fakes.
func (r *Registry) Use(p Profile, prov provider.Provider) {
	r.pool.Put(p.Key(), prov)
}
