package flagkit_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flagkit "github.com/flagkit/flagkit-go-client"
	"github.com/flagkit/flagkit-go-client/fixtures"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestReadBootstrapFromFile(t *testing.T) {
	// Given
	dir := t.TempDir()
	path := filepath.Join(dir, "specs.json")
	writeFile(t, path, fixtures.SpecsJSON)

	// When
	raw, err := flagkit.ReadBootstrapFromFile(path)

	// Then
	require.NoError(t, err)
	assert.Equal(t, fixtures.SpecsJSON, raw)
}

func TestReadBootstrapFromFileRejectsPayloadWithoutValues(t *testing.T) {
	// Given
	dir := t.TempDir()
	path := filepath.Join(dir, "specs.json")
	writeFile(t, path, `{"has_updates": false}`)

	// When
	_, err := flagkit.ReadBootstrapFromFile(path)

	// Then
	assert.ErrorIs(t, err, flagkit.ErrInvalidBootstrap)

	_, err = flagkit.ReadBootstrapFromFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBootstrapDataOption(t *testing.T) {
	// Given
	c := flagkit.NewOnDeviceClient(fixtures.ServerSDKKey, testUnit(),
		flagkit.WithBootstrapData(fixtures.SpecsJSON),
		flagkit.WithDisableLogging(),
		flagkit.WithDisableErrorReporting(),
		flagkit.WithDisableBackgroundCacheRefresh(),
		flagkit.WithRefreshInterval(time.Hour),
	)
	defer c.Shutdown(context.Background())

	// When
	require.NoError(t, c.InitializeSync())

	// Then
	gate := c.GetFeatureGate(fixtures.GateName)
	assert.True(t, gate.Value)
	assert.Equal(t, "Bootstrap:Recognized", gate.Details.Reason)
}

func TestWatchBootstrapFileReloadsOnChange(t *testing.T) {
	// Given
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	path := filepath.Join(dir, "specs.json")
	writeFile(t, path, fixtures.SpecsJSON)
	c := flagkit.NewOnDeviceClient(fixtures.ServerSDKKey, testUnit(),
		flagkit.WithDisableLogging(),
		flagkit.WithDisableErrorReporting(),
	)
	defer c.Shutdown(ctx)

	// When
	require.NoError(t, c.WatchBootstrapFile(ctx, path))

	// Then
	gate := c.GetFeatureGate(fixtures.GateName)
	assert.True(t, gate.Value)
	assert.Equal(t, "Bootstrap:Recognized", gate.Details.Reason)
	assert.Equal(t, fixtures.LCUT, c.GetContext().LCUT)

	// When an invalid payload is written
	writeFile(t, path, `not json`)

	// Then the current values stay
	assert.Never(t, func() bool { return c.GetContext().LCUT != fixtures.LCUT }, 100*time.Millisecond, 10*time.Millisecond)

	// When a newer payload is written
	writeFile(t, path, fixtures.SpecsJSONAt(fixtures.LCUT+5))

	// Then
	assert.Eventually(t, func() bool {
		return c.GetContext().LCUT == fixtures.LCUT+5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchBootstrapFileFailsForMissingFile(t *testing.T) {
	// Given
	c := flagkit.NewOnDeviceClient(fixtures.ServerSDKKey, testUnit(), flagkit.WithDisableLogging())
	defer c.Shutdown(context.Background())

	// When
	err := c.WatchBootstrapFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))

	// Then
	assert.ErrorIs(t, err, os.ErrNotExist)
}
