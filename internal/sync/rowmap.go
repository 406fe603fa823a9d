package sync

import "github.com/waggle-hive/hivehub/internal/model"

// The cloud schema mirrors the local relational schema column-for-column,
// so each of these is a plain field-by-field copy rather than a generic
// reflection-based mapper — explicit beats clever for a handful of tables
// that rarely change shape.

func hiveRow(h model.Hive) map[string]any {
	row := map[string]any{
		"id":         h.ID,
		"name":       h.Name,
		"location":   h.Location,
		"notes":      h.Notes,
		"created_at": h.CreatedAt,
	}
	if h.SenderMAC != nil {
		row["sender_mac"] = *h.SenderMAC
	}
	if h.LastSeenAt != nil {
		row["last_seen_at"] = *h.LastSeenAt
	}
	return row
}

func cameraNodeRow(c model.CameraNode) map[string]any {
	row := map[string]any{
		"device_id":    c.DeviceID,
		"hive_id":      c.HiveID,
		"api_key_hash": c.APIKeyHash,
		"created_at":   c.CreatedAt,
	}
	if c.LastSeenAt != nil {
		row["last_seen_at"] = *c.LastSeenAt
	}
	return row
}

func readingRow(r model.SensorReading) map[string]any {
	row := map[string]any{
		"id":          r.ID,
		"hive_id":     r.HiveID,
		"observed_at": r.ObservedAt,
		"ingested_at": r.IngestedAt,
		"sequence":    r.Sequence,
		"flags":       r.Flags,
		"sender_mac":  r.SenderMAC,
	}
	if r.WeightKg != nil {
		row["weight_kg"] = *r.WeightKg
	}
	if r.TempC != nil {
		row["temp_c"] = *r.TempC
	}
	if r.HumidityPct != nil {
		row["humidity_pct"] = *r.HumidityPct
	}
	if r.PressureHPa != nil {
		row["pressure_hpa"] = *r.PressureHPa
	}
	if r.BatteryV != nil {
		row["battery_v"] = *r.BatteryV
	}
	return row
}

func beeCountRow(b model.BeeCount) map[string]any {
	return map[string]any{
		"id":          b.ID,
		"reading_id":  b.ReadingID,
		"hive_id":     b.HiveID,
		"observed_at": b.ObservedAt,
		"period_ms":   b.PeriodMs,
		"bees_in":     b.BeesIn,
		"bees_out":    b.BeesOut,
		"lane_mask":   b.LaneMask,
		"stuck_mask":  b.StuckMask,
	}
}

func photoRow(p model.Photo) map[string]any {
	row := map[string]any{
		"id":                 p.ID,
		"hive_id":            p.HiveID,
		"device_id":          p.DeviceID,
		"boot_id":            p.BootID,
		"captured_at":        p.CapturedAt,
		"captured_at_source": string(p.CapturedAtSource),
		"ingested_at":        p.IngestedAt,
		"sequence":           p.Sequence,
		"file_size_bytes":    p.FileSizeBytes,
		"sha256":             p.SHA256,
		"width":              p.Width,
		"height":             p.Height,
		"ml_status":          string(p.MLStatus),
		"ml_attempts":        p.MLAttempts,
	}
	if p.MLStartedAt != nil {
		row["ml_started_at"] = *p.MLStartedAt
	}
	if p.MLProcessedAt != nil {
		row["ml_processed_at"] = *p.MLProcessedAt
	}
	if p.MLError != nil {
		row["ml_error"] = *p.MLError
	}
	if p.CloudPath != nil {
		row["cloud_path"] = *p.CloudPath
	}
	return row
}

func detectionRow(d model.MlDetection) map[string]any {
	return map[string]any{
		"id":                    d.ID,
		"photo_id":              d.PhotoID,
		"hive_id":               d.HiveID,
		"detected_at":           d.DetectedAt,
		"top_class":             string(d.TopClass),
		"top_confidence":        d.TopConfidence,
		"varroa_count":          d.VarroaCount,
		"pollen_count":          d.PollenCount,
		"wasp_count":            d.WaspCount,
		"bee_count":             d.BeeCount,
		"normal_count":          d.NormalCount,
		"varroa_max_confidence": d.VarroaMaxConfidence,
		"detections_json":       d.RawBoxesJSON,
		"inference_ms":          d.InferenceMs,
		"model_version":         d.ModelVersion,
		"model_hash":            d.ModelHash,
	}
}

func alertRow(a model.Alert) map[string]any {
	row := map[string]any{
		"id":           a.ID,
		"hive_id":      a.HiveID,
		"type":         string(a.Type),
		"severity":     string(a.Severity),
		"message":      a.Message,
		"observed_at":  a.ObservedAt,
		"created_at":   a.CreatedAt,
		"updated_at":   a.UpdatedAt,
		"acknowledged": a.Acknowledged,
		"source":       string(a.Source),
	}
	if a.AcknowledgedAt != nil {
		row["acknowledged_at"] = *a.AcknowledgedAt
	}
	if a.AcknowledgedBy != nil {
		row["acknowledged_by"] = *a.AcknowledgedBy
	}
	if a.DetailsJSON != nil {
		row["details_json"] = *a.DetailsJSON
	}
	return row
}

func inspectionRow(i model.Inspection) map[string]any {
	row := map[string]any{
		"uuid":         i.ID,
		"hive_id":      i.HiveID,
		"inspected_at": i.InspectedAt,
		"created_at":   i.CreatedAt,
		"updated_at":   i.UpdatedAt,
		"queen_seen":   i.QueenSeen,
		"source":       string(i.Source),
	}
	if i.BroodPattern != nil {
		row["brood_pattern"] = string(*i.BroodPattern)
	}
	if i.TreatmentType != nil {
		row["treatment_type"] = *i.TreatmentType
	}
	if i.TreatmentNotes != nil {
		row["treatment_notes"] = *i.TreatmentNotes
	}
	if i.Notes != nil {
		row["notes"] = *i.Notes
	}
	return row
}

func inspectionFromCloudRow(row map[string]any) model.Inspection {
	var insp model.Inspection
	insp.ID, _ = row["uuid"].(string)
	insp.HiveID = intFromAny(row["hive_id"])
	insp.InspectedAt, _ = row["inspected_at"].(string)
	insp.CreatedAt, _ = row["created_at"].(string)
	insp.UpdatedAt, _ = row["updated_at"].(string)
	insp.QueenSeen, _ = row["queen_seen"].(bool)
	if v, ok := row["brood_pattern"].(string); ok && v != "" {
		bp := model.BroodPattern(v)
		insp.BroodPattern = &bp
	}
	insp.TreatmentType = stringPtrFromAny(row["treatment_type"])
	insp.TreatmentNotes = stringPtrFromAny(row["treatment_notes"])
	insp.Notes = stringPtrFromAny(row["notes"])
	return insp
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func stringPtrFromAny(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}
