package dashboard

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Slug identifies one of the known apps. The set is closed: adding an app
// means adding a constant, a registry entry and a case in Sources.Fetch.
type Slug string

const (
	SlugPing  Slug = "ping"
	SlugLAMMP Slug = "lammp"
	SlugGame  Slug = "game"
)

// AppStatus soft-disables an app; apps are never deleted.
type AppStatus string

const (
	AppActive   AppStatus = "active"
	AppDisabled AppStatus = "disabled"
)

// Valid reports whether s is a known status.
func (s AppStatus) Valid() bool {
	return s == AppActive || s == AppDisabled
}

// AppDescriptor is the display metadata of an app.
type AppDescriptor struct {
	Slug        Slug      `json:"slug" yaml:"slug"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	BaseURL     string    `json:"base_url" yaml:"base_url"`
	Status      AppStatus `json:"status" yaml:"status"`
}

// DefaultApps is the canonical app list in display order.
var DefaultApps = []AppDescriptor{
	{Slug: SlugPing, Name: "PING Web", Description: "Primary learning portal", BaseURL: "https://ping.agaii.org", Status: AppActive},
	{Slug: SlugLAMMP, Name: "LAMMP", Description: "LAMMP learning workspace", BaseURL: "https://lammp.agaii.org", Status: AppActive},
	{Slug: SlugGame, Name: "Game Hub", Description: "Simulation distribution portal", BaseURL: "https://game.agaii.org", Status: AppActive},
}

// Registry is the immutable, ordered set of known apps.
type Registry struct {
	apps  []AppDescriptor
	index map[Slug]int
}

// NewRegistry copies apps into a registry. Slugs must be unique.
func NewRegistry(apps []AppDescriptor) (*Registry, error) {
	r := &Registry{
		apps:  make([]AppDescriptor, len(apps)),
		index: make(map[Slug]int, len(apps)),
	}
	copy(r.apps, apps)
	for i, app := range r.apps {
		if app.Slug == "" {
			return nil, fmt.Errorf("app at position %d has no slug", i)
		}
		if _, dup := r.index[app.Slug]; dup {
			return nil, fmt.Errorf("duplicate app slug %q", app.Slug)
		}
		if app.Status == "" {
			r.apps[i].Status = AppActive
		}
		r.index[app.Slug] = i
	}
	return r, nil
}

// DefaultRegistry returns a registry over DefaultApps.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(DefaultApps)
	return r
}

// Apps returns a copy of the registry in canonical order.
func (r *Registry) Apps() []AppDescriptor {
	out := make([]AppDescriptor, len(r.apps))
	copy(out, r.apps)
	return out
}

// Lookup returns the descriptor for slug.
func (r *Registry) Lookup(slug Slug) (AppDescriptor, bool) {
	i, ok := r.index[slug]
	if !ok {
		return AppDescriptor{}, false
	}
	return r.apps[i], true
}

// Len returns the number of known apps.
func (r *Registry) Len() int {
	return len(r.apps)
}

type registryFile struct {
	Apps []AppDescriptor `yaml:"apps"`
}

// LoadRegistryFile overrides the display metadata of the default apps with
// the entries of a YAML file. Unknown slugs are rejected; the canonical
// order is kept. An empty path returns the default registry.
func LoadRegistryFile(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}

	apps := make([]AppDescriptor, len(DefaultApps))
	copy(apps, DefaultApps)
	for _, override := range file.Apps {
		slug := Slug(strings.ToLower(strings.TrimSpace(string(override.Slug))))
		i := indexOf(apps, slug)
		if i < 0 {
			return nil, fmt.Errorf("registry file: unknown app slug %q", override.Slug)
		}
		if override.Name != "" {
			apps[i].Name = override.Name
		}
		if override.Description != "" {
			apps[i].Description = override.Description
		}
		if override.BaseURL != "" {
			apps[i].BaseURL = override.BaseURL
		}
		if override.Status != "" {
			if !override.Status.Valid() {
				return nil, fmt.Errorf("registry file: app %q has invalid status %q", slug, override.Status)
			}
			apps[i].Status = override.Status
		}
	}
	return NewRegistry(apps)
}

func indexOf(apps []AppDescriptor, slug Slug) int {
	for i, app := range apps {
		if app.Slug == slug {
			return i
		}
	}
	return -1
}
