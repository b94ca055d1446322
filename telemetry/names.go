package telemetry

var valueList = []string{
	"Brake",
	"BrakeRaw",
	"Clutch",
	"DriverMarker",
	"EngineWarnings",
	"FuelLevel",
	"FuelLevelPct",
	"FuelPress",
	"Gear",
	"HandbrakeRaw",
	"IsOnTrack",
	"LatAccel",
	"LFshockDefl",
	"LFshockVel",
	"LongAccel",
	"LRshockDefl",
	"LRshockVel",
	"ManifoldPress",
	"OilLevel",
	"OilPress",
	"OilTemp",
	"OnPitRoad",
	"Pitch",
	"PitchRate",
	"RFshockDefl",
	"RFshockVel",
	"Roll",
	"RollRate",
	"RPM",
	"RRshockDefl",
	"RRshockVel",
	"Rumble",
	"RumbleHz",
	"ShiftGrindRPM",
	"ShiftIndicatorPct",
	"ShiftPowerPct",
	"SlipAngle",
	"Speed",
	"SteeringWheelAngle",
	"SteeringWheelPctTorque",
	"SteeringWheelTorque",
	"Throttle",
	"TireLF_RumblePitch",
	"TireRF_RumblePitch",
	"TireLR_RumblePitch",
	"TireRR_RumblePitch",
	"VelocityX",
	"VelocityY",
	"VelocityZ",
	"VertAccel",
	"Voltage",
	"WaterLevel",
	"WaterTemp",
	"Yaw",
	"YawRate",
}

// ValueList returns the fixed list of names offered to profiles, raw and
// derived together.
func ValueList() []string {
	return append([]string(nil), valueList...)
}
