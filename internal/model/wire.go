package model

import "strconv"

// WireMessage is the inter-process message the Bridge publishes to MQTT and
// Ingestion consumes, carrying the frame's raw integer fields untouched —
// unit conversion and range validation are Ingestion's job, not Bridge's.
type WireMessage struct {
	SchemaVersion  int    `json:"schema_version"`
	HiveID         uint8  `json:"hive_id"`
	MsgType        uint8  `json:"msg_type"`
	Sequence       uint16 `json:"sequence"`
	WeightG        int32  `json:"weight_g"`
	TempCx100      int16  `json:"temp_c_x100"`
	HumidityX100   uint16 `json:"humidity_x100"`
	PressureHPAx10 uint16 `json:"pressure_hpa_x10"`
	BatteryMV      uint16 `json:"battery_mv"`
	Flags          uint8  `json:"flags"`
	SenderMAC      string `json:"sender_mac"`
	ObservedAt     string `json:"observed_at"`

	// Phase 2 only.
	BeesIn    *uint16 `json:"bees_in,omitempty"`
	BeesOut   *uint16 `json:"bees_out,omitempty"`
	PeriodMs  *uint32 `json:"period_ms,omitempty"`
	LaneMask  *uint8  `json:"lane_mask,omitempty"`
	StuckMask *uint8  `json:"stuck_mask,omitempty"`
}

// Topic builds the canonical MQTT topic for a hive's sensor stream.
func (w WireMessage) Topic() string {
	return TopicForHive(w.HiveID)
}

// TopicForHive builds the canonical MQTT topic string for a hive id.
func TopicForHive(hiveID uint8) string {
	return "waggle/" + strconv.Itoa(int(hiveID)) + "/sensors"
}
