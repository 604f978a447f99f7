// Package power manages the node's power-enable latch and battery gauge.
package power

import (
	"sync"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

// ADC reads a raw sample from the battery sense channel.
type ADC interface {
	ReadRaw() (uint32, error)
}

// StaticADC always reports the same raw value. The node uses it when no ADC
// is wired up.
type StaticADC uint32

// ReadRaw returns the fixed value.
func (a StaticADC) ReadRaw() (uint32, error) { return uint32(a), nil }

// Calibration maps raw ADC counts to a charge percentage.
type Calibration struct {
	// FullScale is the raw count at the reference voltage.
	FullScale float64 `json:"full_scale"`
	// RefVolts is the ADC reference voltage.
	RefVolts float64 `json:"ref_volts"`
	// Divider is the ratio of the battery sense resistor divider.
	Divider float64 `json:"divider"`
	// EmptyVolts and FullVolts bound the linear charge scale.
	EmptyVolts float64 `json:"empty_volts"`
	FullVolts  float64 `json:"full_volts"`
}

// DefaultCalibration is a 12-bit 3.3 V ADC behind a 1:3 divider on a
// single-cell LiPo.
func DefaultCalibration() Calibration {
	return Calibration{
		FullScale:  4095,
		RefVolts:   3.3,
		Divider:    3.0,
		EmptyVolts: 3.3,
		FullVolts:  4.2,
	}
}

// Volts converts a raw reading to battery voltage.
func (c Calibration) Volts(raw uint32) float64 {
	if c.FullScale <= 0 {
		return 0
	}
	return float64(raw) / c.FullScale * c.RefVolts * c.Divider
}

// Percent converts a raw reading to a charge percentage clamped to [0, 100].
func (c Calibration) Percent(raw uint32) int {
	span := c.FullVolts - c.EmptyVolts
	if span <= 0 {
		return 0
	}
	pct := int((c.Volts(raw) - c.EmptyVolts) / span * 100)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// BatteryMonitor reports the battery charge percentage.
type BatteryMonitor struct {
	adc ADC
	cal Calibration

	mu      sync.Mutex
	last    int
	failing bool
}

// NewBatteryMonitor creates a monitor reading adc with the given calibration.
func NewBatteryMonitor(adc ADC, cal Calibration) *BatteryMonitor {
	return &BatteryMonitor{adc: adc, cal: cal}
}

// Percent samples the ADC and returns the charge percentage. When the read
// fails the last good value is returned; it is 0 until a read succeeds.
func (m *BatteryMonitor) Percent() int {
	raw, err := m.adc.ReadRaw()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if !m.failing {
			monitoring.Logf("battery: ADC read failed, reporting last value %d%%: %v", m.last, err)
		}
		m.failing = true
		return m.last
	}
	if m.failing {
		monitoring.Logf("battery: ADC read recovered")
		m.failing = false
	}
	m.last = m.cal.Percent(raw)
	return m.last
}
