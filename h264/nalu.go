// Package h264 implements the small part of H.264 Annex-B handling the
// encoder needs: NAL unit boundary detection and parameter-set injection
// before IDR slices.
package h264

import "fmt"

// NALUType is nal_unit_type.
type NALUType uint8

const (
	NALUNonIDRSlice NALUType = 1
	NALUIDRSlice    NALUType = 5
	NALUSEI         NALUType = 6
	NALUSPS         NALUType = 7
	NALUPPS         NALUType = 8
	NALUAUD         NALUType = 9
)

func (t NALUType) String() string {
	switch t {
	case NALUNonIDRSlice:
		return "NonIDR"
	case NALUIDRSlice:
		return "IDR"
	case NALUSEI:
		return "SEI"
	case NALUSPS:
		return "SPS"
	case NALUPPS:
		return "PPS"
	case NALUAUD:
		return "AUD"
	}
	return fmt.Sprintf("NALU(%d)", uint8(t))
}

// StartCodeSize is the size of the start code written in front of every
// NAL unit this package emits.
const StartCodeSize = 4

var startCode = [StartCodeSize]byte{0, 0, 0, 1}

// NALU is one NAL unit found in an Annex-B stream.
type NALU struct {
	Type NALUType
	// Data is the unit without its start code, aliasing the parsed stream.
	Data []byte
}

// Parser walks an Annex-B byte stream one NAL unit at a time.
type Parser struct {
	stream []byte
	pos    int
}

// NewParser returns a parser positioned at the start of stream.
func NewParser(stream []byte) *Parser {
	return &Parser{stream: stream}
}

// findStartCode returns the offset of the next 3-byte start code at or after
// from, or -1.
func findStartCode(data []byte, from int) int {
	for i := from; i+3 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			return i
		}
	}
	return -1
}

// Next returns the next NAL unit. ok is false at the end of the stream.
// Bytes before the first start code are skipped.
func (p *Parser) Next() (nalu NALU, ok bool) {
	for {
		sc := findStartCode(p.stream, p.pos)
		if sc < 0 {
			p.pos = len(p.stream)
			return NALU{}, false
		}
		begin := sc + 3
		end := len(p.stream)
		next := findStartCode(p.stream, begin)
		if next >= 0 {
			end = next
			// The zero_byte of a 4-byte start code belongs to the next unit.
			if end > begin && p.stream[end-1] == 0 {
				end--
			}
		}
		p.pos = end
		if end <= begin {
			continue
		}
		data := p.stream[begin:end]
		return NALU{Type: NALUType(data[0] & 0x1f), Data: data}, true
	}
}

// Split returns every NAL unit of stream.
func Split(stream []byte) []NALU {
	var nalus []NALU
	p := NewParser(stream)
	for {
		n, ok := p.Next()
		if !ok {
			return nalus
		}
		nalus = append(nalus, n)
	}
}

// AppendNALU appends a start code and data to dst.
func AppendNALU(dst []byte, data []byte) []byte {
	dst = append(dst, startCode[:]...)
	return append(dst, data...)
}

// copyNALU writes a start code and data at the front of dst and returns the
// number of bytes written.
func copyNALU(dst []byte, data []byte) int {
	n := copy(dst, startCode[:])
	return n + copy(dst[n:], data)
}
