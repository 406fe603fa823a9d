// Package model defines the relational domain types shared by every
// component: bridge, ingestion, alert engine, ML worker, and sync engine.
package model

import "time"

// TimeFormat is the canonical 24-character UTC timestamp layout used
// throughout the system: YYYY-MM-DDTHH:MM:SS.mmmZ.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// NowUTC returns the current time formatted as the canonical timestamp.
func NowUTC() string {
	return time.Now().UTC().Format(TimeFormat)
}

// FormatTime renders t as the canonical timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses the canonical timestamp format.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}

// Hive is a managed colony under observation.
type Hive struct {
	ID         int
	Name       string
	Location   string
	Notes      string
	SenderMAC  *string
	LastSeenAt *string
	CreatedAt  string
	RowSynced  bool
}

// SensorReading is one raw measurement ingested from a hive node.
type SensorReading struct {
	ID           int64
	HiveID       int
	ObservedAt   string
	IngestedAt   string
	WeightKg     *float64
	TempC        *float64
	HumidityPct  *float64
	PressureHPa  *float64
	BatteryV     *float64
	Sequence     uint16
	Flags        uint8
	SenderMAC    string
	RowSynced    bool
}

// BeeCount is the traffic-count row paired 1:1 with a SensorReading.
type BeeCount struct {
	ID         int64
	ReadingID  int64
	HiveID     int
	ObservedAt string
	PeriodMs   uint32
	BeesIn     uint16
	BeesOut    uint16
	LaneMask   uint8
	StuckMask  uint8
	RowSynced  bool
}

// NetOut is the derived bees_out - bees_in value.
func (b BeeCount) NetOut() int64 { return int64(b.BeesOut) - int64(b.BeesIn) }

// TotalTraffic is the derived bees_in + bees_out value.
func (b BeeCount) TotalTraffic() int64 { return int64(b.BeesIn) + int64(b.BeesOut) }

// CapturedAtSource records where a Photo's captured_at value originated.
type CapturedAtSource string

const (
	CapturedAtDeviceNTP CapturedAtSource = "device_ntp"
	CapturedAtDeviceRTC CapturedAtSource = "device_rtc"
	CapturedAtIngested  CapturedAtSource = "ingested"
)

// MLStatus is the ML worker's claim/retry state for a Photo.
type MLStatus string

const (
	MLStatusPending    MLStatus = "pending"
	MLStatusProcessing MLStatus = "processing"
	MLStatusCompleted  MLStatus = "completed"
	MLStatusFailed     MLStatus = "failed"
)

// Photo is a JPEG captured by a camera node, pending or already ML-processed.
type Photo struct {
	ID               int64
	HiveID           int
	DeviceID         string
	BootID           string
	CapturedAt       string
	CapturedAtSource CapturedAtSource
	Sequence         uint32
	PhotoPath        string
	FileSizeBytes    int64
	SHA256           string
	Width            int
	Height           int
	MLStatus         MLStatus
	MLStartedAt      *string
	MLProcessedAt    *string
	MLAttempts       int
	MLError          *string
	RowSynced        bool
	FileSynced       bool
	CloudPath        *string
	IngestedAt       string
}

// DetectionClass is the closed enumeration of object classes the vision
// model can report.
type DetectionClass string

const (
	ClassVarroa DetectionClass = "varroa"
	ClassPollen DetectionClass = "pollen"
	ClassWasp   DetectionClass = "wasp"
	ClassBee    DetectionClass = "bee"
	ClassNormal DetectionClass = "normal"
)

// RawDetection is one bounding-box result straight from the inference call,
// before confidence-threshold filtering.
type RawDetection struct {
	Class      DetectionClass
	Confidence float64
	BBox       [4]float64 // x, y, w, h — normalized
}

// MlDetection is the summarized ML result for one Photo.
type MlDetection struct {
	ID                  int64
	PhotoID             int64
	HiveID              int
	TopClass            DetectionClass
	TopConfidence       float64
	VarroaCount         int
	PollenCount         int
	WaspCount           int
	BeeCount            int
	NormalCount         int
	VarroaMaxConfidence float64
	RawBoxesJSON        string
	InferenceMs         int64
	ModelVersion        string
	ModelHash           string
	RowSynced           bool
	DetectedAt          string
}

// AlertType is the closed enumeration of alert rule identifiers.
type AlertType string

const (
	AlertHighTemp         AlertType = "HIGH_TEMP"
	AlertLowTemp          AlertType = "LOW_TEMP"
	AlertLowBattery       AlertType = "LOW_BATTERY"
	AlertNoData           AlertType = "NO_DATA"
	AlertPossibleSwarm    AlertType = "POSSIBLE_SWARM"
	AlertAbsconding       AlertType = "ABSCONDING"
	AlertRobbing          AlertType = "ROBBING"
	AlertLowActivity      AlertType = "LOW_ACTIVITY"
	AlertVarroaDetected   AlertType = "VARROA_DETECTED"
	AlertVarroaHighLoad   AlertType = "VARROA_HIGH_LOAD"
	AlertVarroaRising     AlertType = "VARROA_RISING"
	AlertWaspAttack       AlertType = "WASP_ATTACK"
)

// Severity is the closed enumeration of alert severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AlertSource distinguishes locally-fired alerts from cloud-pulled ones.
type AlertSource string

const (
	SourceLocal AlertSource = "local"
	SourceCloud AlertSource = "cloud"
)

// Alert is one fired alert event.
type Alert struct {
	ID              int64
	HiveID          int
	Type            AlertType
	Severity        Severity
	Message         string
	ObservedAt      string
	CreatedAt       string
	UpdatedAt       string
	Acknowledged    bool
	AcknowledgedAt  *string
	AcknowledgedBy  *string
	NotifiedAt      *string
	DetailsJSON     *string
	Source          AlertSource
	RowSynced       bool
}

// BroodPattern is the closed enumeration for Inspection.BroodPattern.
type BroodPattern string

const (
	BroodGood   BroodPattern = "good"
	BroodPatchy BroodPattern = "patchy"
	BroodPoor   BroodPattern = "poor"
)

// Inspection is a user-authored beekeeper record, keyed by a client-supplied
// UUID so offline-authored inspections can be created idempotently.
type Inspection struct {
	ID             string // UUID
	HiveID         int
	InspectedAt    string
	CreatedAt      string
	UpdatedAt      string
	QueenSeen      bool
	BroodPattern   *BroodPattern
	TreatmentType  *string
	TreatmentNotes *string
	Notes          *string
	Source         AlertSource
	RowSynced      bool
}

// CameraNode is a registered camera identity.
type CameraNode struct {
	DeviceID   string
	HiveID     int
	APIKeyHash string
	CreatedAt  string
	LastSeenAt *string
	RowSynced  bool
}
