package configeditor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/guard/internal/registry"
)

const sampleHelmRelease = `apiVersion: helm.toolkit.fluxcd.io/v2beta1
kind: HelmRelease
metadata:
  name: istio
  namespace: istio-system
spec:
  chart:
    spec:
      chart: istio
      version: "1.19.0"
  values:
    global:
      proxy:
        image: proxyv2
`

func writeSample(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "istio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleHelmRelease), 0o644))
	return path
}

func TestEditor_GetCurrentVersion(t *testing.T) {
	path := writeSample(t)
	e := New()
	v, err := e.GetCurrentVersion(path)
	require.NoError(t, err)
	assert.Equal(t, "1.19.0", v)
}

func TestEditor_SupportsFile(t *testing.T) {
	path := writeSample(t)
	e := New()
	assert.True(t, e.SupportsFile(path))

	nonHelm := filepath.Join(t.TempDir(), "other.yaml")
	require.NoError(t, os.WriteFile(nonHelm, []byte("kind: ConfigMap\n"), 0o644))
	assert.False(t, e.SupportsFile(nonHelm))
}

func TestEditor_ApplyUpgradeSpec_UpdatesVersionAndBacksUp(t *testing.T) {
	path := writeSample(t)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	e := New()
	spec := &registry.UpgradeSpec{
		Version: "1.20.0",
		Updates: []registry.FieldUpdate{{Path: "spec.chart.spec.version", Value: "1.20.0"}},
	}
	require.NoError(t, e.ApplyUpgradeSpec(path, spec, true, false))

	v, err := e.GetCurrentVersion(path)
	require.NoError(t, err)
	assert.Equal(t, "1.20.0", v)

	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, original, backup)
}

func TestEditor_ApplyUpgradeSpec_MissingIntermediateKeyFailsAndLeavesFileUntouched(t *testing.T) {
	path := writeSample(t)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	e := New()
	spec := &registry.UpgradeSpec{
		Version: "1.20.0",
		Updates: []registry.FieldUpdate{{Path: "spec.nonexistent.field", Value: "x"}},
	}
	err = e.ApplyUpgradeSpec(path, spec, true, false)
	require.Error(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, after, "file must be byte-identical to pre-image on failure")

	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err, "backup is still written even though the update failed")
}

func TestEditor_ApplyUpgradeSpec_InvalidPathRejected(t *testing.T) {
	path := writeSample(t)
	e := New()
	spec := &registry.UpgradeSpec{
		Updates: []registry.FieldUpdate{{Path: "spec..version", Value: "x"}},
	}
	err := e.ApplyUpgradeSpec(path, spec, false, false)
	assert.Error(t, err)
}

func TestEditor_ApplyUpgradeSpec_StripsLeadingV(t *testing.T) {
	path := writeSample(t)
	e := New()
	spec := &registry.UpgradeSpec{
		Updates: []registry.FieldUpdate{{Path: "spec.chart.spec.version", Value: "v1.21.3"}},
	}
	require.NoError(t, e.ApplyUpgradeSpec(path, spec, false, false))

	v, err := e.GetCurrentVersion(path)
	require.NoError(t, err)
	assert.Equal(t, "1.21.3", v)
}

func TestEditor_ValidateConfig(t *testing.T) {
	path := writeSample(t)
	e := New()
	ok, errs := e.ValidateConfig(path)
	assert.True(t, ok)
	assert.Empty(t, errs)
}
