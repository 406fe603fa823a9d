// Package bridge owns the serial link to ESP32 hive nodes: it reads
// 0x00-delimited COBS frames off the wire, decodes and CRC-checks them,
// and republishes every valid frame as a WireMessage on MQTT. It never
// blocks the read loop on a downstream failure — a frame that fails to
// decode or publish is logged, counted, and dropped, mirroring the way the
// teacher's camera workers keep reading the stream regardless of what a
// single bad event does downstream.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/waggle-hive/hivehub/internal/cobs"
	"github.com/waggle-hive/hivehub/internal/frame"
	"github.com/waggle-hive/hivehub/internal/metrics"
	"github.com/waggle-hive/hivehub/internal/model"
)

const delimiter = 0x00

// maxFrameLen bounds how much undelimited garbage the bridge will buffer
// before giving up on ever seeing a 0x00 and resetting — a wedged sender
// or a noisy line must not grow this buffer without bound.
const maxFrameLen = 4096

// Publisher is the subset of mqttclient.Client the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Bridge reads frames from a serial port and republishes them to MQTT.
type Bridge struct {
	port   serial.Port
	mqtt   Publisher
	log    zerolog.Logger
	encode func(model.WireMessage) ([]byte, error)
}

// Options configures Open.
type Options struct {
	Device string
	Baud   int
}

// Open opens the serial device at the given baud rate, 8N1, matching the
// ESP32 firmware's UART configuration.
func Open(opts Options) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(opts.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", opts.Device, err)
	}
	return port, nil
}

// New builds a Bridge over an already-open serial port.
func New(port serial.Port, mqtt Publisher, log zerolog.Logger) *Bridge {
	return &Bridge{port: port, mqtt: mqtt, log: log, encode: encodeWireMessage}
}

// Run reads frames until ctx is done or the serial port returns a
// non-recoverable error. A read timeout is set on the port so the loop can
// observe ctx cancellation promptly.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.port.SetReadTimeout(500 * time.Millisecond); err != nil {
		return fmt.Errorf("bridge: set read timeout: %w", err)
	}

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := b.port.Read(chunk)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("bridge: serial read: %w", err)
		}
		if n == 0 {
			continue // read timeout elapsed, loop back and check ctx
		}

		buf = append(buf, chunk[:n]...)

		for {
			idx := bytes.IndexByte(buf, delimiter)
			if idx < 0 {
				if len(buf) > maxFrameLen {
					b.log.Warn().Int("buffered", len(buf)).Msg("bridge: no delimiter seen, discarding oversized buffer")
					metrics.BridgeFramesDropped.WithLabelValues("oversized_buffer").Inc()
					buf = buf[:0]
				}
				break
			}

			raw := buf[:idx]
			buf = buf[idx+1:]

			if len(raw) == 0 {
				continue // back-to-back delimiters, nothing to decode
			}
			b.handleFrame(raw)
		}
	}
}

// handleFrame decodes one COBS-framed, delimiter-stripped byte slice and
// publishes it, counting and logging (never panicking or blocking on) any
// failure along the way.
func (b *Bridge) handleFrame(raw []byte) {
	decoded, err := cobs.Decode(raw)
	if err != nil {
		b.log.Warn().Err(err).Msg("bridge: cobs decode failed")
		metrics.BridgeFramesDropped.WithLabelValues("cobs_error").Inc()
		return
	}

	f, err := frame.Decode(decoded)
	if err != nil {
		reason := "frame_error"
		switch {
		case errors.Is(err, frame.ErrBadLength):
			reason = "length_error"
		case errors.Is(err, frame.ErrBadCRC):
			reason = "crc_error"
		case errors.Is(err, frame.ErrBadMsgType):
			reason = "msg_type_mismatch"
		}
		b.log.Warn().Err(err).Msg("bridge: frame decode failed")
		metrics.BridgeFramesDropped.WithLabelValues(reason).Inc()
		return
	}

	msg := wireMessageFromFrame(*f)
	payload, err := b.encode(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("bridge: encode wire message failed")
		metrics.BridgeFramesDropped.WithLabelValues("encode_error").Inc()
		return
	}

	if err := b.mqtt.Publish(msg.Topic(), 1, false, payload); err != nil {
		b.log.Error().Err(err).Str("topic", msg.Topic()).Msg("bridge: mqtt publish failed")
		metrics.BridgeFramesDropped.WithLabelValues("publish_error").Inc()
		return
	}

	metrics.BridgeFramesPublished.Inc()
}

func wireMessageFromFrame(f frame.Frame) model.WireMessage {
	msg := model.WireMessage{
		SchemaVersion:  1,
		HiveID:         f.HiveID,
		MsgType:        byte(f.MsgType),
		Sequence:       f.Sequence,
		WeightG:        f.WeightG,
		TempCx100:      f.TempCx100,
		HumidityX100:   f.HumidityX100,
		PressureHPAx10: f.PressureHPAx10,
		BatteryMV:      f.BatteryMV,
		Flags:          f.Flags,
		SenderMAC:      f.SenderMAC,
		ObservedAt:     model.NowUTC(),
	}
	if f.Traffic != nil {
		msg.BeesIn = &f.Traffic.BeesIn
		msg.BeesOut = &f.Traffic.BeesOut
		msg.PeriodMs = &f.Traffic.PeriodMs
		msg.LaneMask = &f.Traffic.LaneMask
		msg.StuckMask = &f.Traffic.StuckMask
	}
	return msg
}

func encodeWireMessage(msg model.WireMessage) ([]byte, error) {
	return json.Marshal(msg)
}
