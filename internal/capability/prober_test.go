package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testProber builds a prober with all host probes stubbed out.
func testProber(goos string, devices []string, openErr error, meminfo string) *Prober {
	return &Prober{
		goos: goos,
		devGlob: func(pattern string) ([]string, error) {
			return devices, nil
		},
		openDevice: func(path string) error {
			return openErr
		},
		meminfoPath: meminfo,
	}
}

// writeMeminfo writes a /proc/meminfo style file for memory estimation.
func writeMeminfo(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheckDarwin(t *testing.T) {
	p := testProber("darwin", nil, nil, "/nonexistent")

	cap := p.Check()
	assert.True(t, cap.Supported)
	assert.True(t, cap.Available)
	assert.Empty(t, cap.Reason)
	assert.Equal(t, FallbackMemoryMB, cap.EstimatedMemoryMB)
}

func TestCheckLinux(t *testing.T) {
	tests := []struct {
		name          string
		devices       []string
		openErr       error
		wantSupported bool
		wantAvailable bool
		wantReason    string
	}{
		{
			name:          "render node openable",
			devices:       []string{"/dev/dri/renderD128"},
			wantSupported: true,
			wantAvailable: true,
		},
		{
			name:          "render node present but busy",
			devices:       []string{"/dev/dri/renderD128"},
			openErr:       fmt.Errorf("device busy"),
			wantSupported: true,
			wantAvailable: false,
			wantReason:    "no adapter available",
		},
		{
			name:          "no devices at all",
			devices:       nil,
			wantSupported: false,
			wantAvailable: false,
			wantReason:    "not supported in this environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProber("linux", tt.devices, tt.openErr, "/nonexistent")

			cap := p.Check()
			assert.Equal(t, tt.wantSupported, cap.Supported)
			assert.Equal(t, tt.wantAvailable, cap.Available)
			assert.Equal(t, tt.wantReason, cap.Reason)
		})
	}
}

func TestCheckUnknownPlatform(t *testing.T) {
	p := testProber("plan9", nil, nil, "/nonexistent")

	cap := p.Check()
	assert.False(t, cap.Supported)
	assert.False(t, cap.Available)
	assert.Equal(t, "not supported in this environment", cap.Reason)
}

func TestCheckCached(t *testing.T) {
	calls := 0
	p := &Prober{
		goos: "linux",
		devGlob: func(pattern string) ([]string, error) {
			calls++
			return []string{"/dev/dri/renderD128"}, nil
		},
		openDevice:  func(path string) error { return nil },
		meminfoPath: "/nonexistent",
	}

	first := p.Check()
	second := p.Check()
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCheckNeverPanics(t *testing.T) {
	p := &Prober{
		goos: "linux",
		devGlob: func(pattern string) ([]string, error) {
			panic("glob exploded")
		},
		openDevice:  func(path string) error { return nil },
		meminfoPath: "/nonexistent",
	}

	cap := p.Check()
	assert.False(t, cap.Supported)
	assert.False(t, cap.Available)
	assert.Contains(t, cap.Reason, "probe panicked")
	assert.Equal(t, FallbackMemoryMB, cap.EstimatedMemoryMB)
}

func TestEstimateMemoryMB(t *testing.T) {
	tests := []struct {
		name     string
		meminfo  string
		expected int
	}{
		{
			name:     "16 GiB host",
			meminfo:  "MemTotal:       16384000 kB\nMemFree:        1234 kB\n",
			expected: 8000,
		},
		{
			name:     "malformed MemTotal",
			meminfo:  "MemTotal: not-a-number kB\n",
			expected: FallbackMemoryMB,
		},
		{
			name:     "no MemTotal line",
			meminfo:  "MemFree: 1234 kB\n",
			expected: FallbackMemoryMB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProber("linux", nil, nil, writeMeminfo(t, tt.meminfo))
			assert.Equal(t, tt.expected, p.estimateMemoryMB())
		})
	}
}

func TestEstimateMemoryMBMissingFile(t *testing.T) {
	p := testProber("linux", nil, nil, "/nonexistent/meminfo")
	assert.Equal(t, FallbackMemoryMB, p.estimateMemoryMB())
}
