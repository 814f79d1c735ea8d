// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzer

// Entity ids the pool domain reads from a snapshot. The set is the contract
// between the snapshot source, the analyzer, and the safety validator; the
// control surface uses the same ids as action targets.
const (
	EntityWaterTemp     = "sensor.pool_water_temperature"
	EntityPumpSound     = "sensor.pool_pump_sound_level"
	EntityRuntimeToday  = "sensor.pool_runtime_today"
	EntityHeaterAction  = "sensor.pool_heater_action" // "heating" or "idle"
	EntitySensorFailure = "binary_sensor.pool_sensor_failure"
	EntitySequenceLock  = "binary_sensor.pool_sequence_lock"
	EntityMeshOnline    = "binary_sensor.pool_mesh_online"
	EntityPump          = "switch.pool_pump"
	EntityHeater        = "switch.pool_heater"
	EntityHeaterTarget  = "number.pool_heater_setpoint"
	EntityActiveMode    = "select.pool_active_mode"

	// Valve position switches: on = spa position, off = pool position.
	ValveEntityPrefix = "switch.pool_valve_"
)

// Operating modes of the installation. ModeNone means no program active.
const (
	ModeNone          = "none"
	ModeHotTubHeat    = "hot_tub_heat"
	ModePoolHeat      = "pool_heat"
	ModePoolSkimmer   = "pool_skimmer"
	ModePoolWaterfall = "pool_waterfall"
	ModePoolVacuum    = "pool_vacuum"
)

// IsHeatingMode reports whether the mode runs the heater.
func IsHeatingMode(mode string) bool {
	return mode == ModeHotTubHeat || mode == ModePoolHeat
}

// Absolute temperature hard limits (°F). These bounds also back the
// safety validator's setpoint rule; they are data of the domain, not
// configuration.
const (
	TempOverheatF = 105.0
	TempFreezeF   = 40.0
)
