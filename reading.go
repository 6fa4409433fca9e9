package airkit

import "fmt"

// SentinelValue marks a field that could not be read this cycle.
const SentinelValue = -1

// SensorReading holds one full acquisition cycle. Every field is either fresh
// or set to SentinelValue, never stale.
type SensorReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PressureHpa float64 `json:"pressure_hpa"`
	Co2Ppm      int     `json:"co2_ppm"`
}

func EmptySensorReading() SensorReading {
	return SensorReading{
		Temperature: SentinelValue,
		Humidity:    SentinelValue,
		PressureHpa: SentinelValue,
		Co2Ppm:      SentinelValue,
	}
}

func (sr SensorReading) String() string {
	return fmt.Sprintf("temperature: %.2f °C, humidity: %.2f %%, pressure: %.2f hPa, co2: %d ppm",
		sr.Temperature, sr.Humidity, sr.PressureHpa, sr.Co2Ppm)
}
