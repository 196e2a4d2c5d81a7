package router

import (
	"strings"

	"fitgrid-session/internal/models"
)

// Catalog holds the static equipment catalog plus the lookup indices the
// normalization handlers need: by BLE peripheral address, by cadence sensor
// id, and by vibration-capable equipment id.
type Catalog struct {
	entries          []models.EquipmentEntry
	byBLEAddress     map[string]models.EquipmentEntry
	byCadenceID      map[string]models.EquipmentEntry
	vibrationByEquip map[string]models.EquipmentEntry
}

// NewCatalog builds the lookup indices from catalog entries.
func NewCatalog(entries []models.EquipmentEntry) *Catalog {
	c := &Catalog{
		entries:          append([]models.EquipmentEntry(nil), entries...),
		byBLEAddress:     make(map[string]models.EquipmentEntry),
		byCadenceID:      make(map[string]models.EquipmentEntry),
		vibrationByEquip: make(map[string]models.EquipmentEntry),
	}
	for _, entry := range c.entries {
		if entry.BLE != nil && entry.BLE.Address != "" {
			c.byBLEAddress[normalizeKey(entry.BLE.Address)] = entry
		}
		if entry.Cadence != nil && entry.Cadence.SensorID != "" {
			c.byCadenceID[normalizeKey(entry.Cadence.SensorID)] = entry
		}
		if entry.Sensor.Type == "vibration" {
			c.vibrationByEquip[normalizeKey(entry.ID)] = entry
		}
	}
	return c
}

// ByBLEAddress looks an entry up by BLE peripheral address.
func (c *Catalog) ByBLEAddress(address string) (models.EquipmentEntry, bool) {
	entry, ok := c.byBLEAddress[normalizeKey(address)]
	return entry, ok
}

// ByCadenceID looks an entry up by cadence sensor id.
func (c *Catalog) ByCadenceID(sensorID string) (models.EquipmentEntry, bool) {
	entry, ok := c.byCadenceID[normalizeKey(sensorID)]
	return entry, ok
}

// VibrationEquipment looks a vibration-capable entry up by equipment id.
func (c *Catalog) VibrationEquipment(equipmentID string) (models.EquipmentEntry, bool) {
	entry, ok := c.vibrationByEquip[normalizeKey(equipmentID)]
	return entry, ok
}

// normalizeKey lowercases and strips separators so "AA:BB:CC", "aa-bb-cc"
// and "aabbcc" land on the same index slot.
func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, ":", "")
	key = strings.ReplaceAll(key, "-", "")
	return strings.TrimSpace(key)
}
