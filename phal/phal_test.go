package phal_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslauro/stratum/phal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLinks struct {
	links []phal.Interface
	err   error
}

func (f fakeLinks) Links() ([]phal.Interface, error) { return f.links, f.err }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSelect(t *testing.T) {
	tests := []struct {
		sim  bool
		want phal.Kind
	}{
		{sim: true, want: phal.KindSim},
		{sim: false, want: phal.KindReal},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			p := phal.Select(tt.sim, phal.WithLogger(testLogger()), phal.WithLinkLister(fakeLinks{}))
			assert.Equal(t, tt.want, p.Kind())
		})
	}
}

func TestSim(t *testing.T) {
	ctx := context.Background()
	p := phal.Select(true, phal.WithLogger(testLogger()))

	ifs, err := p.Interfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ifs, phal.DefaultSimPorts)
	assert.Equal(t, "1/0", ifs[0].Name)
	assert.Equal(t, "32/0", ifs[31].Name)

	sensors, err := p.Sensors(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sensors)

	require.NoError(t, p.Shutdown())
	_, err = p.Sensors(ctx)
	require.ErrorIs(t, err, phal.ErrShutdown)
}

func TestSim_PortCount(t *testing.T) {
	p := phal.Select(true, phal.WithLogger(testLogger()), phal.WithSimPorts(4))
	ifs, err := p.Interfaces(context.Background())
	require.NoError(t, err)
	assert.Len(t, ifs, 4)
}

func TestHost_Sensors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "class/hwmon/hwmon0/name"), "coretemp\n")
	writeFile(t, filepath.Join(root, "class/hwmon/hwmon0/temp1_input"), "42000\n")
	writeFile(t, filepath.Join(root, "class/hwmon/hwmon0/temp1_label"), "Package id 0\n")
	writeFile(t, filepath.Join(root, "class/hwmon/hwmon1/temp2_input"), "31500\n")
	writeFile(t, filepath.Join(root, "class/hwmon/hwmon1/temp3_input"), "garbage\n")

	p := phal.Select(false, phal.WithLogger(testLogger()), phal.WithSysRoot(root), phal.WithLinkLister(fakeLinks{}))
	sensors, err := p.Sensors(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []phal.Sensor{
		{Name: "coretemp/Package id 0", MilliCelsius: 42000},
		{Name: "hwmon1/temp2", MilliCelsius: 31500},
	}, sensors)
}

func TestHost_Interfaces(t *testing.T) {
	links := fakeLinks{links: []phal.Interface{
		{Name: "eth0", Index: 2, MTU: 1500, Up: true},
		{Name: "lo", Index: 1, MTU: 65536, Up: true},
	}}
	p := phal.Select(false, phal.WithLogger(testLogger()), phal.WithSysRoot(t.TempDir()), phal.WithLinkLister(links))

	ifs, err := p.Interfaces(context.Background())
	require.NoError(t, err)
	require.Len(t, ifs, 2)
	assert.Equal(t, "lo", ifs[0].Name)
	assert.Equal(t, "eth0", ifs[1].Name)

	broken := phal.Select(false, phal.WithLogger(testLogger()), phal.WithLinkLister(fakeLinks{err: errors.New("netlink down")}))
	_, err = broken.Interfaces(context.Background())
	require.Error(t, err)
}

func TestHost_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := phal.Select(false, phal.WithLogger(testLogger()), phal.WithLinkLister(fakeLinks{}))
	_, err := p.Sensors(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
