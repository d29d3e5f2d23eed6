package models

// Condition is a human-facing weather category.
type Condition string

const (
	ConditionClear        Condition = "clear"
	ConditionCloudy       Condition = "cloudy"
	ConditionFoggy        Condition = "foggy"
	ConditionDrizzle      Condition = "drizzle"
	ConditionRain         Condition = "rain"
	ConditionSnow         Condition = "snow"
	ConditionRainShowers  Condition = "rain showers"
	ConditionSnowShowers  Condition = "snow showers"
	ConditionThunderstorm Condition = "thunderstorm"
	ConditionUnknown      Condition = "unknown"
)

// Conditions lists the full vocabulary.
var Conditions = []Condition{
	ConditionClear,
	ConditionCloudy,
	ConditionFoggy,
	ConditionDrizzle,
	ConditionRain,
	ConditionSnow,
	ConditionRainShowers,
	ConditionSnowShowers,
	ConditionThunderstorm,
	ConditionUnknown,
}
