package dashboard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	require.Equal(t, 3, r.Len())

	apps := r.Apps()
	assert.Equal(t, []Slug{SlugPing, SlugLAMMP, SlugGame}, []Slug{apps[0].Slug, apps[1].Slug, apps[2].Slug})

	app, ok := r.Lookup(SlugLAMMP)
	require.True(t, ok)
	assert.Equal(t, "LAMMP", app.Name)
	assert.Equal(t, "https://lammp.agaii.org", app.BaseURL)

	_, ok = r.Lookup("nope")
	assert.False(t, ok)
}

func TestRegistry_AppsIsACopy(t *testing.T) {
	r := DefaultRegistry()
	apps := r.Apps()
	apps[0].Name = "mutated"

	app, _ := r.Lookup(SlugPing)
	assert.Equal(t, "PING Web", app.Name)
	assert.Equal(t, "PING Web", DefaultApps[0].Name)
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry([]AppDescriptor{{Slug: "a"}, {Slug: "a"}})
	assert.Error(t, err)

	_, err = NewRegistry([]AppDescriptor{{Name: "no slug"}})
	assert.Error(t, err)

	r, err := NewRegistry([]AppDescriptor{{Slug: "a"}})
	require.NoError(t, err)
	app, _ := r.Lookup("a")
	assert.Equal(t, AppActive, app.Status)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadRegistryFile(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		r, err := LoadRegistryFile("")
		require.NoError(t, err)
		assert.Equal(t, DefaultApps, r.Apps())
	})

	t.Run("overrides keep canonical order", func(t *testing.T) {
		r, err := LoadRegistryFile(writeFile(t, `
apps:
  - slug: game
    name: Game Portal
    status: disabled
  - slug: PING
    base_url: https://staging.ping.agaii.org
`))
		require.NoError(t, err)
		apps := r.Apps()
		assert.Equal(t, SlugPing, apps[0].Slug)
		assert.Equal(t, "https://staging.ping.agaii.org", apps[0].BaseURL)
		assert.Equal(t, "PING Web", apps[0].Name)
		assert.Equal(t, "Game Portal", apps[2].Name)
		assert.Equal(t, AppDisabled, apps[2].Status)
	})

	t.Run("unknown slug", func(t *testing.T) {
		_, err := LoadRegistryFile(writeFile(t, "apps:\n  - slug: chess\n    name: Chess\n"))
		assert.ErrorContains(t, err, "unknown app slug")
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := LoadRegistryFile(writeFile(t, "apps:\n  - slug: ping\n    status: deleted\n"))
		assert.ErrorContains(t, err, "invalid status")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := LoadRegistryFile(writeFile(t, "apps: [\n"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRegistryFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
