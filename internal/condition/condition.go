// Package condition maps WMO weather codes to human categories and predicts
// categories for forecast rows.
package condition

import (
	"math"

	"github.com/lox/wandiforecast/internal/models"
)

// codeCategories is the WMO 4677 subset reported by the archive.
var codeCategories = map[int]models.Condition{
	0:  models.ConditionClear,
	1:  models.ConditionCloudy,
	2:  models.ConditionCloudy,
	3:  models.ConditionCloudy,
	45: models.ConditionFoggy,
	48: models.ConditionFoggy,
	51: models.ConditionDrizzle,
	53: models.ConditionDrizzle,
	55: models.ConditionDrizzle,
	56: models.ConditionDrizzle,
	57: models.ConditionDrizzle,
	61: models.ConditionRain,
	63: models.ConditionRain,
	65: models.ConditionRain,
	66: models.ConditionRain,
	67: models.ConditionRain,
	71: models.ConditionSnow,
	73: models.ConditionSnow,
	75: models.ConditionSnow,
	77: models.ConditionSnow,
	80: models.ConditionRainShowers,
	81: models.ConditionRainShowers,
	82: models.ConditionRainShowers,
	85: models.ConditionSnowShowers,
	86: models.ConditionSnowShowers,
	95: models.ConditionThunderstorm,
	96: models.ConditionThunderstorm,
	99: models.ConditionThunderstorm,
}

// NormalizeCode returns the category for a WMO code.
func NormalizeCode(code int) models.Condition {
	if c, ok := codeCategories[code]; ok {
		return c
	}
	return models.ConditionUnknown
}

// Normalize maps a column of codes to categories. Missing and non-integer
// values are unknown.
func Normalize(codes []float64) []models.Condition {
	out := make([]models.Condition, len(codes))
	for i, v := range codes {
		if math.IsNaN(v) || v != math.Trunc(v) {
			out[i] = models.ConditionUnknown
			continue
		}
		out[i] = NormalizeCode(int(v))
	}
	return out
}
