package router

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"fitgrid-session/internal/models"
)

// normalizeANT normalizes an ANT+ radio payload (heart-rate strap or cadence
// sensor on a bike).
func normalizeANT(payload models.DevicePayload, ctx HandlerContext) (*models.DeviceRecord, error) {
	record := &models.DeviceRecord{
		ID:        payload.DeviceID,
		Profile:   models.DeviceProfileANT,
		LastSeen:  payloadTime(payload),
		Connected: true,
	}

	record.Metrics.HeartRate = positiveIntField(payload.Data, "heartRate", "heart_rate", "hr")
	record.Metrics.Cadence = finiteField(payload.Data, "cadence", "rpm")
	record.Metrics.Power = finiteField(payload.Data, "power", "watts")
	record.Metrics.Distance = finiteField(payload.Data, "distance")
	record.Metrics.BatteryLevel = positiveIntField(payload.Data, "battery", "batteryLevel")

	record.EquipmentID = payload.EquipmentID
	if record.EquipmentID == "" && record.Metrics.Cadence != nil {
		// cadence readings attach to a piece of equipment via the sensor id
		if entry, ok := ctx.Catalog.ByCadenceID(payload.DeviceID); ok {
			record.EquipmentID = entry.ID
		}
	}
	return record, nil
}

// normalizeBLEJumpRope normalizes a low-energy jump-rope peripheral payload.
func normalizeBLEJumpRope(payload models.DevicePayload, ctx HandlerContext) (*models.DeviceRecord, error) {
	record := &models.DeviceRecord{
		ID:        payload.DeviceID,
		Profile:   models.DeviceProfileBLEJumpRope,
		LastSeen:  payloadTime(payload),
		Connected: true,
	}

	record.Metrics.HeartRate = positiveIntField(payload.Data, "heartRate", "heart_rate")
	record.Metrics.Cadence = finiteField(payload.Data, "rpm", "ropeRpm", "cadence")
	record.Metrics.BatteryLevel = positiveIntField(payload.Data, "battery", "batteryLevel")

	record.EquipmentID = payload.EquipmentID
	if record.EquipmentID == "" {
		address := payload.DeviceID
		if addr, ok := payload.Data["address"].(string); ok && addr != "" {
			address = addr
		}
		if entry, ok := ctx.Catalog.ByBLEAddress(address); ok {
			record.EquipmentID = entry.ID
		}
	}
	return record, nil
}

// normalizeVibration normalizes a vibration-sensor payload. The payload must
// resolve to a vibration-capable piece of equipment.
func normalizeVibration(payload models.DevicePayload, ctx HandlerContext) (*models.DeviceRecord, error) {
	equipmentID := payload.EquipmentID
	if equipmentID == "" {
		equipmentID = payload.DeviceID
	}
	entry, ok := ctx.Catalog.VibrationEquipment(equipmentID)
	if !ok {
		return nil, fmt.Errorf("no vibration-capable equipment for %q", equipmentID)
	}

	record := &models.DeviceRecord{
		ID:          payload.DeviceID,
		Profile:     models.DeviceProfileVibration,
		EquipmentID: entry.ID,
		LastSeen:    payloadTime(payload),
		Connected:   true,
	}
	record.Metrics.VibrationIntensity = finiteField(payload.Data, "intensity", "magnitude")
	if axes := positiveIntField(payload.Data, "axes", "axisCount"); axes != nil {
		record.Metrics.VibrationAxes = axes
	}
	return record, nil
}

func payloadTime(payload models.DevicePayload) time.Time {
	if payload.Timestamp > 0 {
		return time.UnixMilli(payload.Timestamp)
	}
	return time.Now()
}

// finiteField extracts the first numeric field that is finite.
func finiteField(data map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		raw, ok := data[key]
		if !ok {
			continue
		}
		v, ok := toFloat(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return &v
	}
	return nil
}

// positiveIntField extracts the first field that coerces to a positive integer.
func positiveIntField(data map[string]any, keys ...string) *int {
	for _, key := range keys {
		raw, ok := data[key]
		if !ok {
			continue
		}
		v, ok := toFloat(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		n := int(math.Round(v))
		if n <= 0 {
			continue
		}
		return &n
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
