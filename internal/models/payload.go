package models

// DevicePayload is the transport-agnostic inbound sensor payload.
// Data fields differ per payload type and are interpreted by the router's
// normalization handlers.
type DevicePayload struct {
	Topic       string         `json:"topic"`
	Type        string         `json:"type"`
	DeviceID    string         `json:"deviceId"`
	Data        map[string]any `json:"data"`
	Timestamp   int64          `json:"timestamp"`
	DongleIndex *int           `json:"dongleIndex,omitempty"`
	EquipmentID string         `json:"equipmentId,omitempty"`
	Thresholds  map[string]any `json:"thresholds,omitempty"`
}

// EquipmentBLE is the BLE addressing block of a catalog entry.
type EquipmentBLE struct {
	Address string `json:"address"`
}

// EquipmentCadence is the cadence-sensor block of a catalog entry.
type EquipmentCadence struct {
	SensorID string `json:"sensor_id"`
}

// EquipmentSensor describes the sensor kind mounted on a piece of equipment.
type EquipmentSensor struct {
	Type string `json:"type"`
}

// EquipmentEntry is one row of the static equipment catalog.
type EquipmentEntry struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	BLE        *EquipmentBLE     `json:"ble,omitempty"`
	Cadence    *EquipmentCadence `json:"cadence,omitempty"`
	Sensor     EquipmentSensor   `json:"sensor"`
	Thresholds map[string]any    `json:"thresholds,omitempty"`
}
