// Package frame decodes the COBS-decoded binary payload emitted by ESP32
// hive nodes into a structured record: sender MAC, the common sensor
// record, and — for Phase 2 nodes — paired traffic counters.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/waggle-hive/hivehub/internal/crc8"
)

// MsgType identifies which wire layout a frame carries.
type MsgType byte

const (
	MsgTypeSensor  MsgType = 0x01 // 38-byte frame, Phase 1
	MsgTypeTraffic MsgType = 0x02 // 54-byte frame, Phase 2
)

const (
	macLen          = 6
	commonRecordLen = 17 // bytes 6..22 of the full frame, CRC input
	phase1Len       = 38
	phase2Len       = 54
)

var (
	// ErrBadLength is returned when the decoded frame isn't 38 or 54 bytes.
	ErrBadLength = errors.New("frame: unexpected decoded length")
	// ErrBadCRC is returned when the CRC-8 trailer doesn't match.
	ErrBadCRC = errors.New("frame: CRC-8 mismatch")
	// ErrBadMsgType is returned when msg_type doesn't match the frame length.
	ErrBadMsgType = errors.New("frame: msg_type does not match frame length")
)

// Traffic holds the Phase 2 bee-traffic fields.
type Traffic struct {
	BeesIn    uint16
	BeesOut   uint16
	PeriodMs  uint32
	LaneMask  uint8
	StuckMask uint8
}

// Frame is the fully decoded representation of one sensor-link frame.
type Frame struct {
	SenderMAC      string // canonical "AA:BB:CC:DD:EE:FF"
	HiveID         uint8
	MsgType        MsgType
	Sequence       uint16
	WeightG        int32
	TempCx100      int16
	HumidityX100   uint16
	PressureHPAx10 uint16
	BatteryMV      uint16
	Flags          uint8
	Traffic        *Traffic // non-nil only for Phase 2 frames
}

// Decode parses a COBS-decoded byte slice into a Frame. It validates the
// overall length, the CRC-8 trailer, and the msg_type/length pairing.
func Decode(decoded []byte) (*Frame, error) {
	switch len(decoded) {
	case phase1Len, phase2Len:
	default:
		return nil, fmt.Errorf("%w: got %d bytes", ErrBadLength, len(decoded))
	}

	macBytes := decoded[:macLen]
	record := decoded[macLen : macLen+commonRecordLen] // bytes 6..22
	crcByte := decoded[macLen+commonRecordLen]         // byte 23

	if got := crc8.Checksum(record); got != crcByte {
		return nil, fmt.Errorf("%w: expected 0x%02X got 0x%02X", ErrBadCRC, got, crcByte)
	}

	f := &Frame{
		SenderMAC:      formatMAC(macBytes),
		HiveID:         record[0],
		MsgType:        MsgType(record[1]),
		Sequence:       binary.LittleEndian.Uint16(record[2:4]),
		WeightG:        int32(binary.LittleEndian.Uint32(record[4:8])),
		TempCx100:      int16(binary.LittleEndian.Uint16(record[8:10])),
		HumidityX100:   binary.LittleEndian.Uint16(record[10:12]),
		PressureHPAx10: binary.LittleEndian.Uint16(record[12:14]),
		BatteryMV:      binary.LittleEndian.Uint16(record[14:16]),
		Flags:          record[16],
	}

	expectedType := MsgTypeSensor
	if len(decoded) == phase2Len {
		expectedType = MsgTypeTraffic
	}
	if f.MsgType != expectedType {
		return nil, fmt.Errorf("%w: frame is %d bytes but msg_type=0x%02X", ErrBadMsgType, len(decoded), byte(f.MsgType))
	}

	if len(decoded) == phase2Len {
		t := decoded[24:34] // bytes 24..33: bees_in, bees_out, period_ms, lane_mask, stuck_mask
		f.Traffic = &Traffic{
			BeesIn:    binary.LittleEndian.Uint16(t[0:2]),
			BeesOut:   binary.LittleEndian.Uint16(t[2:4]),
			PeriodMs:  binary.LittleEndian.Uint32(t[4:8]),
			LaneMask:  t[8],
			StuckMask: t[9],
		}
	}

	return f, nil
}

func formatMAC(b []byte) string {
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, 17)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hex[v>>4], hex[v&0x0F])
	}
	return string(out)
}
