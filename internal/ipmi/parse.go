package ipmi

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"codeberg.org/mutker/ipmifanctl/internal/thermal"
)

// Column layout of `ipmitool sensor list`. Index 7 is upper non-critical,
// 8 upper critical and 9 upper non-recoverable; the controller treats UC as
// its warning threshold and UNR as its critical one.
const (
	colName     = 0
	colValue    = 1
	colUnit     = 2
	colWarning  = 8 // UC
	colCritical = 9 // UNR
	minColumns  = 10
)

// ParseSensorList extracts temperature readings from `ipmitool sensor list`
// output. Rows that are not temperature sensors, have no numeric ID in their
// name, or lack a current value or either threshold are skipped.
func ParseSensorList(out []byte) []thermal.SensorReading {
	var readings []thermal.SensorReading

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if r, ok := parseRow(sc.Text()); ok {
			readings = append(readings, r)
		}
	}

	return readings
}

func parseRow(line string) (thermal.SensorReading, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < minColumns {
		return thermal.SensorReading{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if !strings.Contains(parts[colUnit], "degrees") {
		return thermal.SensorReading{}, false
	}

	id, ok := sensorID(parts[colName])
	if !ok {
		return thermal.SensorReading{}, false
	}

	current, ok := parseValue(parts[colValue])
	if !ok {
		return thermal.SensorReading{}, false
	}

	warning, ok := parseValue(parts[colWarning])
	if !ok {
		return thermal.SensorReading{}, false
	}
	critical, ok := parseValue(parts[colCritical])
	if !ok {
		return thermal.SensorReading{}, false
	}

	return thermal.SensorReading{
		ID:       id,
		Current:  current,
		Warning:  warning,
		Critical: critical,
	}, true
}

// sensorID returns the first integer word of a sensor name, so "Temp 12"
// and "12-CPU 1" style names both resolve.
func sensorID(name string) (int, bool) {
	for _, word := range strings.Fields(name) {
		if id, err := strconv.Atoi(word); err == nil && id >= 0 {
			return id, true
		}
		if head, _, found := strings.Cut(word, "-"); found {
			if id, err := strconv.Atoi(head); err == nil && id >= 0 {
				return id, true
			}
		}
	}

	return 0, false
}

func parseValue(s string) (float64, bool) {
	if s == "" || strings.EqualFold(s, "na") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
