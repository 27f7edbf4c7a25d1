// Package capability probes the host for accelerated local compute.
package capability

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/pkg/models"
)

// FallbackMemoryMB is reported when no memory measurement is obtainable.
const FallbackMemoryMB = 2048

// memoryFraction is the conservative share of system memory assumed
// usable for model weights.
const memoryFraction = 0.5

// Prober performs a single cached capability check. It never returns an
// error: every failure degrades to an unavailable descriptor with a
// reason.
type Prober struct {
	// Overridable for tests.
	goos        string
	devGlob     func(pattern string) ([]string, error)
	openDevice  func(path string) error
	meminfoPath string

	once   sync.Once
	result models.Capability
}

// NewProber creates a prober for the current host.
func NewProber() *Prober {
	return &Prober{
		goos:        runtime.GOOS,
		devGlob:     filepath.Glob,
		openDevice:  openDevice,
		meminfoPath: "/proc/meminfo",
	}
}

// Check probes the host once and returns the cached descriptor on
// every subsequent call.
func (p *Prober) Check() models.Capability {
	p.once.Do(func() {
		p.result = p.probe()
		log.Debug().
			Bool("supported", p.result.Supported).
			Bool("available", p.result.Available).
			Int("estimated_memory_mb", p.result.EstimatedMemoryMB).
			Str("reason", p.result.Reason).
			Msg("Capability probe complete")
	})
	return p.result
}

// probe performs the actual check. Panics are contained so the prober
// keeps its never-fails contract.
func (p *Prober) probe() (cap models.Capability) {
	defer func() {
		if r := recover(); r != nil {
			// Support was never determined, so don't claim it.
			cap = models.Capability{
				Supported:         false,
				Available:         false,
				EstimatedMemoryMB: FallbackMemoryMB,
				Reason:            fmt.Sprintf("probe panicked: %v", r),
			}
		}
	}()

	cap.EstimatedMemoryMB = p.estimateMemoryMB()

	switch p.goos {
	case "darwin":
		// Apple silicon and Intel Macs both expose a GPU through Metal.
		cap.Supported = true
		cap.Available = true
		return cap
	case "linux":
		devices, err := p.devGlob("/dev/dri/renderD*")
		if err != nil || len(devices) == 0 {
			nvidia, nerr := p.devGlob("/dev/nvidia[0-9]*")
			if nerr != nil || len(nvidia) == 0 {
				cap.Supported = false
				cap.Available = false
				cap.Reason = "not supported in this environment"
				return cap
			}
			devices = nvidia
		}
		cap.Supported = true
		for _, dev := range devices {
			if err := p.openDevice(dev); err == nil {
				cap.Available = true
				return cap
			}
		}
		cap.Available = false
		cap.Reason = "no adapter available"
		return cap
	default:
		cap.Supported = false
		cap.Available = false
		cap.Reason = "not supported in this environment"
		return cap
	}
}

// estimateMemoryMB returns a conservative fraction of system memory,
// falling back to FallbackMemoryMB when no measurement is obtainable.
func (p *Prober) estimateMemoryMB() int {
	f, err := os.Open(p.meminfoPath)
	if err != nil {
		return FallbackMemoryMB
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || kb <= 0 {
			break
		}
		return int(float64(kb/1024) * memoryFraction)
	}
	return FallbackMemoryMB
}

// openDevice checks whether a render device can actually be acquired.
func openDevice(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return f.Close()
}
