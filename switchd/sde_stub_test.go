//go:build !(bfsde && cgo)

package switchd_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslauro/stratum/switchd"
)

func TestSDEWithoutBuildTag(t *testing.T) {
	cfg, err := switchd.NewLaunchConfig(switchd.Options{InstallDir: "/opt/bf-sde"})
	require.NoError(t, err)

	sde := switchd.NewSDE(testLogger())
	assert.Equal(t, switchd.StatusNotBuilt, sde.Init(cfg))

	_, err = switchd.SDELocator{}.DevicePath()
	require.ErrorIs(t, err, switchd.ErrSDENotBuilt)
}
