package gate

import (
	"math"
	"strconv"
	"strings"
)

// DefaultBatteryThreshold is the level at or below which a warning shows.
const DefaultBatteryThreshold = 20

// Default indicator colors.
const (
	BatteryLowColor = "#f44336"
	BatteryOKColor  = "#4caf50"
)

// batteryAttributes is the fallback chain after the entity state.
var batteryAttributes = []string{"battery_level", "battery", "level", "percentage"}

// BatteryLevel reads a numeric level from the entity state, then from the
// attribute chain. The result is clamped to [0, 100].
func BatteryLevel(state string, attrs map[string]any) (float64, bool) {
	if v, ok := parseLevel(state); ok {
		return clampPercent(v), true
	}
	for _, key := range batteryAttributes {
		if v, ok := parseLevel(attrs[key]); ok {
			return clampPercent(v), true
		}
	}
	return 0, false
}

func parseLevel(raw any) (float64, bool) {
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case float32:
		v = float64(t)
	case int:
		v = float64(t)
	case int64:
		v = float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// Warning is the derived battery signal.
type Warning struct {
	Show         bool
	LevelPercent float64
}

// DeriveBatteryWarning shows a warning when a level is known and at or below threshold.
func DeriveBatteryWarning(level float64, ok bool, threshold float64) Warning {
	if !ok {
		return Warning{}
	}
	return Warning{Show: level <= threshold, LevelPercent: level}
}

// Indicator is the battery signal handed to renderers.
type Indicator struct {
	Show         bool    `json:"show"`
	LevelPercent float64 `json:"level_percent"`
	Color        string  `json:"color"`
}

// IndicatorColors overrides the default indicator colors.
type IndicatorColors struct {
	Low string
	OK  string
}

// NewIndicator attaches a color to a warning.
func NewIndicator(w Warning, colors IndicatorColors) Indicator {
	low, ok := colors.Low, colors.OK
	if low == "" {
		low = BatteryLowColor
	}
	if ok == "" {
		ok = BatteryOKColor
	}

	color := ok
	if w.Show {
		color = low
	}
	return Indicator{Show: w.Show, LevelPercent: w.LevelPercent, Color: color}
}
