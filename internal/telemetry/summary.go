// Package telemetry implements the window aggregation, summary encoding and
// batching stages of the node pipeline.
package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is the motion state derived from a window's peak magnitude.
type Status string

const (
	Moving  Status = "MOVING"
	Resting Status = "RESTING"
)

// FieldCount is the number of comma-separated fields in an encoded summary.
const FieldCount = 7

// ErrMalformedLine is returned when a CSV line cannot be decoded.
var ErrMalformedLine = errors.New("malformed summary line")

// ErrBadDeviceID is returned for device ids that cannot be carried in the
// device column.
var ErrBadDeviceID = errors.New("invalid device id")

// ValidateDeviceID checks that id is non-empty and holds no field or line
// separator.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrBadDeviceID)
	}
	if i := strings.IndexAny(id, ",\r\n"); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrBadDeviceID, id, id[i])
	}
	return nil
}

// WindowSummary is the immutable record produced at every window tick.
type WindowSummary struct {
	Timestamp string
	DeviceID  string
	Status    Status
	Battery   int
	Steps     uint32
	PeakG     float64
	Fall      bool
}

// AppendCSV appends the summary as one newline-terminated line in the field
// order timestamp,device_id,status,battery_pct,step_count,peak_g,fall_flag.
func (s WindowSummary) AppendCSV(dst []byte) []byte {
	dst = append(dst, s.Timestamp...)
	dst = append(dst, ',')
	dst = append(dst, s.DeviceID...)
	dst = append(dst, ',')
	dst = append(dst, s.Status...)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(s.Battery), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(s.Steps), 10)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, s.PeakG, 'f', 2, 64)
	dst = append(dst, ',')
	if s.Fall {
		dst = append(dst, '1')
	} else {
		dst = append(dst, '0')
	}
	return append(dst, '\n')
}

// String returns the encoded CSV line, including the trailing newline.
func (s WindowSummary) String() string {
	return string(s.AppendCSV(nil))
}

// DecodeLine parses one encoded summary line. Surrounding whitespace and the
// trailing newline are ignored.
func DecodeLine(line string) (WindowSummary, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != FieldCount {
		return WindowSummary{}, fmt.Errorf("%w: got %d fields, want %d", ErrMalformedLine, len(fields), FieldCount)
	}

	battery, err := strconv.Atoi(fields[3])
	if err != nil {
		return WindowSummary{}, fmt.Errorf("%w: battery: %v", ErrMalformedLine, err)
	}
	steps, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return WindowSummary{}, fmt.Errorf("%w: steps: %v", ErrMalformedLine, err)
	}
	peak, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return WindowSummary{}, fmt.Errorf("%w: peak: %v", ErrMalformedLine, err)
	}

	var fall bool
	switch fields[6] {
	case "1":
		fall = true
	case "0":
	default:
		return WindowSummary{}, fmt.Errorf("%w: fall flag %q", ErrMalformedLine, fields[6])
	}

	status := Status(fields[2])
	if status != Moving && status != Resting {
		return WindowSummary{}, fmt.Errorf("%w: status %q", ErrMalformedLine, fields[2])
	}

	return WindowSummary{
		Timestamp: fields[0],
		DeviceID:  fields[1],
		Status:    status,
		Battery:   battery,
		Steps:     uint32(steps),
		PeakG:     peak,
		Fall:      fall,
	}, nil
}
