package models

const (
	// RawTimeField is the time column name as delivered by the archive.
	RawTimeField = "date"
	// TimeField is the time column name after preparation.
	TimeField = "ds"
	// ConditionField holds WMO weather codes in observation tables.
	ConditionField = "weather_code"
)

// FeatureSet names the columns used for one granularity.
type FeatureSet struct {
	// Fields are requested from the archive, in order.
	Fields []string
	// Discrete fields are never interpolated; rows missing them are dropped.
	Discrete []string
	// Regressors are forecast first and then used as covariates.
	Regressors []string
	// ConditionInputs feed the weather-condition classifier.
	ConditionInputs []string
}

var dailyFeatures = FeatureSet{
	Fields: []string{
		"weather_code",
		"temperature_2m_max",
		"temperature_2m_min",
		"temperature_2m_mean",
		"sunshine_duration",
		"precipitation_sum",
		"precipitation_hours",
		"wind_speed_10m_max",
		"wind_gusts_10m_max",
		"wind_direction_10m_dominant",
	},
	Discrete:        []string{"weather_code", "wind_direction_10m_dominant"},
	Regressors:      []string{"temperature_2m_mean", "precipitation_sum", "wind_speed_10m_max"},
	ConditionInputs: []string{"temperature_2m_mean", "wind_speed_10m_max", "precipitation_sum", "precipitation_hours"},
}

var hourlyFeatures = FeatureSet{
	Fields: []string{
		"temperature_2m",
		"relative_humidity_2m",
		"precipitation",
		"weather_code",
		"surface_pressure",
		"cloud_cover",
		"wind_speed_10m",
		"wind_direction_10m",
		"wind_gusts_10m",
	},
	Discrete:        []string{"weather_code", "wind_direction_10m"},
	Regressors:      []string{"temperature_2m", "surface_pressure", "wind_speed_10m"},
	ConditionInputs: []string{"temperature_2m", "precipitation", "cloud_cover", "wind_speed_10m"},
}

// Features returns the feature set for g. The returned slices must not be
// modified.
func Features(g Granularity) FeatureSet {
	if g == Hourly {
		return hourlyFeatures
	}
	return dailyFeatures
}
