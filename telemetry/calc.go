package telemetry

import "math"

const (
	// G is standard gravity in m/s².
	G = 9.81

	// SlipAngleMinSpeed is the speed at or below which slip angle is forced
	// to zero; the velocity ratio is meaningless near standstill.
	SlipAngleMinSpeed = 5.0

	// RumbleScale maps shock deflection deltas (m) to rumble units.
	RumbleScale = 1000.0

	radToDeg = 180.0 / math.Pi
)

// Getter reads a raw field as float64, returning 0 for missing fields.
type Getter func(name string) float64

// Profile holds the per-vehicle constants used by derived signals.
type Profile struct {
	Name          string
	Wheelbase     float64  // metres
	TrackWidth    float64  // metres
	RumbleCorners []string // corner codes: LF, RF, LR, RR and optionally CF
}

// DefaultProfile returns the constants for the stock profile.
func DefaultProfile() Profile {
	return Profile{
		Name:          "default",
		Wheelbase:     2.456,
		TrackWidth:    1.980,
		RumbleCorners: []string{"LF", "RF", "LR", "RR"},
	}
}

// ShockField returns the raw deflection field for a corner code.
func ShockField(corner string) string {
	return corner + "shockDefl"
}

func rumbleStateKey(field string) string {
	return "rumble:" + field
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * radToDeg
}

// SlipAngle returns the body slip angle in degrees.
func SlipAngle(get Getter, p Profile) float64 {
	if get("Speed") <= SlipAngleMinSpeed {
		return 0
	}
	yawRate := get("YawRate")
	t1 := get("VelocityY") - yawRate*(p.TrackWidth/2)
	t2 := get("VelocityX") - yawRate*(p.Wheelbase/2)
	return Degrees(math.Atan2(t1, t2))
}

// Rumble returns the largest per-corner deflection change since the last
// committed tick, scaled by RumbleScale. It does not modify state.
func Rumble(get Getter, state *State, corners []string) float64 {
	var peak float64
	for _, c := range corners {
		field := ShockField(c)
		delta := math.Abs(get(field) - state.Get(rumbleStateKey(field)))
		if delta > peak {
			peak = delta
		}
	}
	return peak * RumbleScale
}

// CommitRumble records the current deflection of each corner for the next
// tick.
func CommitRumble(get Getter, state *State, corners []string) {
	for _, c := range corners {
		field := ShockField(c)
		state.Set(rumbleStateKey(field), get(field))
	}
}

// RumbleHz returns the highest tire rumble-strip pitch.
func RumbleHz(get Getter) float64 {
	return math.Max(
		math.Max(get("TireLF_RumblePitch"), get("TireRF_RumblePitch")),
		math.Max(get("TireLR_RumblePitch"), get("TireRR_RumblePitch")),
	)
}

// VertAccel returns vertical acceleration in g with the 1 g baseline removed.
// Pitch and roll are read as raw radians.
func VertAccel(get Getter) float64 {
	return (get("VertAccel")*math.Cos(get("Pitch"))*math.Cos(get("Roll")) - G) / G
}

// LongAccel returns longitudinal acceleration in g.
func LongAccel(get Getter) float64 {
	return get("LongAccel") * math.Cos(get("Pitch")) / G
}

// LatAccel returns lateral acceleration in g.
func LatAccel(get Getter) float64 {
	return get("LatAccel") * math.Cos(get("Roll")) / G
}

// PitchDegrees returns pitch in degrees, nose-up positive.
func PitchDegrees(get Getter) float64 {
	return -Degrees(get("Pitch"))
}
