package imu

import (
	"fmt"
	"strings"
)

// AxisConfig configures one measurement engine of the sensor.
type AxisConfig struct {
	Range   string `json:"range"`
	ODR     string `json:"odr"`
	LPFMode int    `json:"lpf_mode"`
	Enabled bool   `json:"enabled"`
}

// PedometerConfig holds the step detection parameters written to the sensor.
type PedometerConfig struct {
	SampleCount  uint16 `json:"sample_count"`
	FixPeak2Peak uint16 `json:"fix_peak2peak"`
	FixPeak      uint16 `json:"fix_peak"`
	TimeUpLimit  uint16 `json:"time_up_limit"`
	TimeLowLimit uint16 `json:"time_low_limit"`
	CountEntry   uint16 `json:"count_entry"`
	FixPrecision uint16 `json:"fix_precision"`
	SignalCount  uint8  `json:"signal_count"`
	Enabled      bool   `json:"enabled"`
}

// SensorConfig is the full sensor setup applied by Init.
type SensorConfig struct {
	Accel     AxisConfig      `json:"accel"`
	Gyro      AxisConfig      `json:"gyro"`
	Pedometer PedometerConfig `json:"pedometer"`
}

// DefaultSensorConfig returns the configuration the wearable ships with:
// ±8 g at 125 Hz, 512 dps at 112.1 Hz and the vendor pedometer defaults.
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		Accel: AxisConfig{Range: "8g", ODR: "125Hz", LPFMode: 0, Enabled: true},
		Gyro:  AxisConfig{Range: "512dps", ODR: "112.1Hz", LPFMode: 3, Enabled: true},
		Pedometer: PedometerConfig{
			SampleCount:  0x0064,
			FixPeak2Peak: 0x00CC,
			FixPeak:      0x0066,
			TimeUpLimit:  0x0050,
			TimeLowLimit: 0x0014,
			CountEntry:   0x000A,
			FixPrecision: 0x0000,
			SignalCount:  0x04,
			Enabled:      true,
		},
	}
}

// Commands renders the configuration as bridge commands, in the order the
// sensor requires: engine setup, pedometer setup, then the enables.
func (c SensorConfig) Commands() []string {
	cmds := []string{
		fmt.Sprintf("ACC %s %s %d", c.Accel.Range, c.Accel.ODR, c.Accel.LPFMode),
		fmt.Sprintf("GYR %s %s %d", c.Gyro.Range, c.Gyro.ODR, c.Gyro.LPFMode),
	}

	p := c.Pedometer
	ped := []string{
		hex16(p.SampleCount), hex16(p.FixPeak2Peak), hex16(p.FixPeak), hex16(p.TimeUpLimit),
		hex16(p.TimeLowLimit), hex16(p.CountEntry), hex16(p.FixPrecision), fmt.Sprintf("0x%02X", p.SignalCount),
	}
	cmds = append(cmds, "PED "+strings.Join(ped, " "))

	if p.Enabled {
		cmds = append(cmds, "EN PED")
	}
	if c.Accel.Enabled {
		cmds = append(cmds, "EN ACC")
	}
	if c.Gyro.Enabled {
		cmds = append(cmds, "EN GYR")
	}
	return cmds
}

func hex16(v uint16) string {
	return fmt.Sprintf("0x%04X", v)
}
