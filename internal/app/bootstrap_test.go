package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainop/internal/config"
)

func TestLoadConfiguration_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
reconciler:
  mode: kubernetes
  namespace: from-file
engine:
  workers: 4
`), 0644))

	cfg := NewConfig(false, dir, Overrides{Namespace: "from-flag"})
	require.NoError(t, loadConfiguration(cfg))

	require.NotNil(t, cfg.DomainopConfig)
	assert.Equal(t, "from-flag", cfg.DomainopConfig.Reconciler.Namespace)
	assert.Equal(t, 4, cfg.DomainopConfig.Engine.Workers)
}

func TestLoadConfiguration_OverrideMustBeValid(t *testing.T) {
	cfg := NewConfig(false, t.TempDir(), Overrides{Mode: "filesystem"})

	err := loadConfiguration(cfg)
	require.Error(t, err)

	var verrs config.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "reconciler.path", verrs[0].Field)
	assert.Nil(t, cfg.DomainopConfig)
}

func TestLoadConfiguration_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: ["), 0644))

	err := loadConfiguration(NewConfig(true, dir, Overrides{}))
	assert.ErrorContains(t, err, "failed to load domainop configuration")
}
