package h264

import (
	"github.com/sirupsen/logrus"
)

// Injector copies encoded bitstream into client buffers. When enabled it
// caches the newest SPS and PPS seen in the stream and injects them in front
// of IDR slices that are not already preceded by both.
//
// The "already preceded" tracking is scoped to one CopyInto call, that is to
// one device output buffer.
type Injector struct {
	enabled    bool
	cachedSPS  []byte
	cachedPPS  []byte
	headerSize int
	injections int
}

// NewInjector returns an injector. A disabled injector performs straight
// copies.
func NewInjector(enabled bool) *Injector {
	return &Injector{enabled: enabled}
}

// Enabled reports whether parameter sets are injected.
func (j *Injector) Enabled() bool { return j.enabled }

// Injections returns the number of IDR slices that received parameter sets.
func (j *Injector) Injections() int { return j.injections }

// HasCachedHeaders reports whether both an SPS and a PPS are cached.
func (j *Injector) HasCachedHeaders() bool {
	return len(j.cachedSPS) > 0 && len(j.cachedPPS) > 0
}

// CopyInto writes src into dst and returns the number of bytes written.
//
// Without injection a payload that does not fit is dropped entirely and 0 is
// returned. With injection the stream is rewritten unit by unit; copying
// stops at the first unit that does not fit.
func (j *Injector) CopyInto(dst, src []byte) int {
	if !j.enabled {
		if len(src) > len(dst) {
			logrus.WithFields(logrus.Fields{
				"function":    "Injector.CopyInto",
				"payload":     len(src),
				"buffer_size": len(dst),
			}).Warn("Output data did not fit in the bitstream buffer")
			return 0
		}
		return copy(dst, src)
	}

	remaining := len(dst)
	insertedSPS := false
	insertedPPS := false

	p := NewParser(src)
	for {
		nalu, ok := p.Next()
		if !ok {
			break
		}
		if len(nalu.Data)+StartCodeSize > remaining {
			logrus.WithFields(logrus.Fields{
				"function":  "Injector.CopyInto",
				"nalu_type": nalu.Type.String(),
				"nalu_size": len(nalu.Data),
				"remaining": remaining,
			}).Warn("Output data did not fit in the bitstream buffer")
			break
		}

		switch nalu.Type {
		case NALUSPS:
			j.cachedSPS = append(j.cachedSPS[:0], nalu.Data...)
			j.headerSize = len(j.cachedSPS) + len(j.cachedPPS) + 2*StartCodeSize
			insertedSPS = true
		case NALUPPS:
			j.cachedPPS = append(j.cachedPPS[:0], nalu.Data...)
			j.headerSize = len(j.cachedSPS) + len(j.cachedPPS) + 2*StartCodeSize
			insertedPPS = true
		case NALUIDRSlice:
			if insertedSPS && insertedPPS {
				break
			}
			if !j.HasCachedHeaders() {
				logrus.WithFields(logrus.Fields{
					"function": "Injector.CopyInto",
				}).Warn("Cannot inject IDR slice without SPS and PPS")
				break
			}
			if j.headerSize+len(nalu.Data)+StartCodeSize > remaining {
				logrus.WithFields(logrus.Fields{
					"function":    "Injector.CopyInto",
					"header_size": j.headerSize,
					"nalu_size":   len(nalu.Data),
					"remaining":   remaining,
				}).Warn("Not enough space to inject a stream header before IDR")
				break
			}
			if !insertedSPS {
				remaining -= copyNALU(dst[len(dst)-remaining:], j.cachedSPS)
			}
			if !insertedPPS {
				remaining -= copyNALU(dst[len(dst)-remaining:], j.cachedPPS)
			}
			insertedSPS, insertedPPS = true, true
			j.injections++
			logrus.WithFields(logrus.Fields{
				"function":   "Injector.CopyInto",
				"injections": j.injections,
			}).Debug("Stream header injected before IDR")
		}

		remaining -= copyNALU(dst[len(dst)-remaining:], nalu.Data)
	}

	return len(dst) - remaining
}
