package decoder

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/sensorpipe/sensorpipe/data"
	"github.com/sensorpipe/sensorpipe/plugin"
	"github.com/sensorpipe/sensorpipe/stage"
)

// WitMotion packet layout: 0x55 header, frame marker, 8 data bytes, one
// checksum byte (sum of the first 10 bytes mod 256).
const (
	witHeader     = 0x55
	witPacketSize = 11
)

// Frame markers.
const (
	witAcceleration    = 0x51
	witAngularVelocity = 0x52
	witOrientation     = 0x53
	witMagnetometer    = 0x54
)

var witFrameNames = map[byte]string{
	witAcceleration:    "acceleration",
	witAngularVelocity: "angular_velocity",
	witOrientation:     "orientation",
	witMagnetometer:    "magnetometer",
}

// WitMotionConfig holds configuration for the WitMotion decoder. Ranges
// scale the raw int16 samples to physical units.
type WitMotionConfig struct {
	SensorID   string  `json:"sensor_id"`
	AccRange   float64 `json:"acc_range"`   // g
	GyroRange  float64 `json:"gyro_range"`  // degrees per second
	AngleRange float64 `json:"angle_range"` // degrees
}

// DefaultWitMotionConfig returns the default WitMotion decoder
// configuration.
func DefaultWitMotionConfig() WitMotionConfig {
	return WitMotionConfig{
		SensorID:   "witmotion",
		AccRange:   16.0,
		GyroRange:  2000.0,
		AngleRange: 180.0,
	}
}

// WitMotion decodes the binary framing of WitMotion IMU sensors. Partial
// packets at chunk boundaries are buffered; garbage between packets is
// discarded byte by byte until the next header.
type WitMotion struct {
	cfg    WitMotionConfig
	logger *slog.Logger

	mu        sync.Mutex
	buf       []byte
	decoded   int64
	checksums int64
}

// NewWitMotion creates a WitMotion decoder from its configuration section.
func NewWitMotion(config map[string]any, deps plugin.Deps) (any, error) {
	cfg := DefaultWitMotionConfig()
	cfg.SensorID = stage.GetString(config, "sensor_id", cfg.SensorID)
	cfg.AccRange = stage.GetFloat64(config, "acc_range", cfg.AccRange)
	cfg.GyroRange = stage.GetFloat64(config, "gyro_range", cfg.GyroRange)
	cfg.AngleRange = stage.GetFloat64(config, "angle_range", cfg.AngleRange)
	return &WitMotion{cfg: cfg, logger: deps.Logger}, nil
}

// Decode appends the chunk to the frame buffer and extracts every complete
// packet in it.
func (d *WitMotion) Decode(raw []byte) ([]*data.SensorData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, raw...)

	var recs []*data.SensorData
	for len(d.buf) >= witPacketSize {
		if d.buf[0] != witHeader {
			d.resync()
			continue
		}
		marker := d.buf[1]
		if _, ok := witFrameNames[marker]; !ok {
			d.buf = d.buf[1:]
			continue
		}

		var sum byte
		for _, b := range d.buf[:10] {
			sum += b
		}
		if sum != d.buf[10] {
			d.checksums++
			d.logger.Warn("checksum mismatch, dropping packet",
				"expected", sum, "got", d.buf[10])
			d.buf = d.buf[witPacketSize:]
			continue
		}

		rec := d.decodePacket(marker, d.buf[2:10])
		d.buf = d.buf[witPacketSize:]
		d.decoded++
		recs = append(recs, rec)
	}
	return recs, nil
}

// resync discards bytes up to the next header, or the whole buffer when no
// header remains.
func (d *WitMotion) resync() {
	for i := 1; i < len(d.buf); i++ {
		if d.buf[i] == witHeader {
			d.buf = d.buf[i:]
			return
		}
	}
	d.buf = d.buf[:0]
}

func (d *WitMotion) decodePacket(marker byte, payload []byte) *data.SensorData {
	x := int16(binary.LittleEndian.Uint16(payload[0:2]))
	y := int16(binary.LittleEndian.Uint16(payload[2:4]))
	z := int16(binary.LittleEndian.Uint16(payload[4:6]))

	rec := data.New(d.cfg.SensorID, witFrameNames[marker])
	rec.SetTimestamp(nil)

	switch marker {
	case witAcceleration:
		factor := d.cfg.AccRange / 32768.0
		rec.Values["accel_x"] = float64(x) * factor
		rec.Values["accel_y"] = float64(y) * factor
		rec.Values["accel_z"] = float64(z) * factor
		rec.Units["accel_x"] = "g"
		rec.Units["accel_y"] = "g"
		rec.Units["accel_z"] = "g"
	case witAngularVelocity:
		factor := d.cfg.GyroRange / 32768.0
		rec.Values["gyro_x"] = float64(x) * factor
		rec.Values["gyro_y"] = float64(y) * factor
		rec.Values["gyro_z"] = float64(z) * factor
		rec.Units["gyro_x"] = "deg/s"
		rec.Units["gyro_y"] = "deg/s"
		rec.Units["gyro_z"] = "deg/s"
	case witOrientation:
		factor := d.cfg.AngleRange / 32768.0
		rec.Values["roll"] = float64(x) * factor
		rec.Values["pitch"] = float64(y) * factor
		rec.Values["yaw"] = float64(z) * factor
		rec.Units["roll"] = "deg"
		rec.Units["pitch"] = "deg"
		rec.Units["yaw"] = "deg"
	case witMagnetometer:
		rec.Values["mag_x"] = float64(x)
		rec.Values["mag_y"] = float64(y)
		rec.Values["mag_z"] = float64(z)
	}
	return rec
}

// Status reports decoder progress.
func (d *WitMotion) Status() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]any{
		"decoded":           d.decoded,
		"checksum_failures": d.checksums,
		"buffered":          len(d.buf),
	}
}

var _ stage.Decoder = (*WitMotion)(nil)
var _ stage.StatusReporter = (*WitMotion)(nil)
