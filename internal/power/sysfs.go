package power

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/motion.report/internal/fsutil"
)

// DefaultGPIOBase is the sysfs GPIO class directory.
const DefaultGPIOBase = "/sys/class/gpio"

// SysfsGPIO drives a GPIO line through the sysfs interface.
type SysfsGPIO struct {
	fs   fsutil.FileSystem
	base string
	pin  int

	ready bool
	held  bool
}

// NewSysfsGPIO returns a sysfs line for pin under base. An empty base
// selects DefaultGPIOBase and a nil fs the real filesystem.
func NewSysfsGPIO(fs fsutil.FileSystem, base string, pin int) *SysfsGPIO {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if base == "" {
		base = DefaultGPIOBase
	}
	return &SysfsGPIO{fs: fs, base: base, pin: pin}
}

func (g *SysfsGPIO) lineDir() string {
	return filepath.Join(g.base, "gpio"+strconv.Itoa(g.pin))
}

func (g *SysfsGPIO) setup() error {
	if g.ready {
		return nil
	}
	if !g.fs.Exists(g.lineDir()) {
		if err := g.fs.WriteFile(filepath.Join(g.base, "export"), []byte(strconv.Itoa(g.pin)), 0200); err != nil {
			return fmt.Errorf("export gpio %d: %w", g.pin, err)
		}
	}
	if err := g.fs.WriteFile(filepath.Join(g.lineDir(), "direction"), []byte("out"), 0644); err != nil {
		return fmt.Errorf("set gpio %d direction: %w", g.pin, err)
	}
	g.ready = true
	return nil
}

// SetHigh exports the line on first use, configures it as an output and
// writes 1.
func (g *SysfsGPIO) SetHigh() error {
	if err := g.setup(); err != nil {
		return err
	}
	if err := g.fs.WriteFile(filepath.Join(g.lineDir(), "value"), []byte("1"), 0644); err != nil {
		return fmt.Errorf("write gpio %d: %w", g.pin, err)
	}
	return nil
}

// Hold records the hold request. A sysfs line keeps its level for as long as
// it stays exported, which the node never undoes.
func (g *SysfsGPIO) Hold(enabled bool) error {
	g.held = enabled
	return nil
}

// Held reports the last hold request.
func (g *SysfsGPIO) Held() bool {
	return g.held
}

// SysfsADC reads an IIO voltage channel such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type SysfsADC struct {
	fs   fsutil.FileSystem
	path string
}

// NewSysfsADC returns an ADC reading the raw attribute at path.
func NewSysfsADC(fs fsutil.FileSystem, path string) *SysfsADC {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &SysfsADC{fs: fs, path: path}
}

// ReadRaw reads and parses the channel's raw count.
func (a *SysfsADC) ReadRaw() (uint32, error) {
	data, err := a.fs.ReadFile(a.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", a.path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", a.path, err)
	}
	return uint32(v), nil
}
