package negentropy

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

type mode byte

const (
	modeSkip mode = iota
	modeFingerprint
	modeIDList
)

// wireRange is one (upperBound, mode, payload) triple. Ranges are
// listed in ascending order; a range's implicit lower bound is the
// previous range's upper bound (negative infinity for the first).
type wireRange struct {
	upper       int64 // posInfinity encodes as the wire's 0 sentinel
	mode        mode
	fingerprint [16]byte
	items       []Item
}

const protocolVersion byte = 0x61

// legacyProtocolVersion is the pre-NIP-77-final wire version some older
// relays still speak; LegacyFallback retries under this version once a
// peer rejects protocolVersion.
const legacyProtocolVersion byte = 0x60

func encodeMessage(version byte, ranges []wireRange) []byte {
	var buf bytes.Buffer
	buf.WriteByte(version)
	for _, r := range ranges {
		writeBound(&buf, r.upper)
		buf.WriteByte(byte(r.mode))
		switch r.mode {
		case modeFingerprint:
			buf.Write(r.fingerprint[:])
		case modeIDList:
			writeVarint(&buf, uint64(len(r.items)))
			for _, item := range r.items {
				var tsBuf [8]byte
				binary.BigEndian.PutUint64(tsBuf[:], uint64(item.Timestamp))
				buf.Write(tsBuf[:])
				buf.Write(item.ID[:])
			}
		}
	}
	return buf.Bytes()
}

// decodeMessage returns the wire version the message was framed with
// alongside its ranges; callers that care about version compatibility
// (Session.Reconcile) check it themselves so LegacyFallback can retry
// under a different version instead of failing at decode time.
func decodeMessage(data []byte) (byte, []wireRange, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	r := bytes.NewReader(data)
	ver, err := r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("negentropy: empty message")
	}

	var ranges []wireRange
	for r.Len() > 0 {
		upper, err := readBound(r)
		if err != nil {
			return 0, nil, err
		}
		modeByte, err := r.ReadByte()
		if err != nil {
			return 0, nil, fmt.Errorf("negentropy: truncated message (mode)")
		}
		wr := wireRange{upper: upper, mode: mode(modeByte)}
		switch wr.mode {
		case modeFingerprint:
			var fp [16]byte
			if _, err := io.ReadFull(r, fp[:]); err != nil {
				return 0, nil, fmt.Errorf("negentropy: truncated fingerprint")
			}
			wr.fingerprint = fp
		case modeIDList:
			count, err := readVarint(r)
			if err != nil {
				return 0, nil, err
			}
			wr.items = make([]Item, count)
			for i := uint64(0); i < count; i++ {
				var tsBuf [8]byte
				if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
					return 0, nil, fmt.Errorf("negentropy: truncated id list timestamp")
				}
				var id [32]byte
				if _, err := io.ReadFull(r, id[:]); err != nil {
					return 0, nil, fmt.Errorf("negentropy: truncated id list id")
				}
				wr.items[i] = Item{ID: id, Timestamp: int64(binary.BigEndian.Uint64(tsBuf[:]))}
			}
		case modeSkip:
			// no payload
		default:
			return 0, nil, fmt.Errorf("negentropy: unknown mode %d", modeByte)
		}
		ranges = append(ranges, wr)
	}
	return ver, ranges, nil
}

func writeBound(buf *bytes.Buffer, upper int64) {
	if upper == posInfinity {
		writeVarint(buf, 0)
		return
	}
	writeVarint(buf, uint64(upper+1))
}

func readBound(r *bytes.Reader) (int64, error) {
	v, err := readVarint(r)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return posInfinity, nil
	}
	return int64(v) - 1, nil
}

// writeVarint encodes v as a base-128 varint, most-significant group
// first (distinct from protobuf's LSB-first convention, matching the
// reference negentropy encoding).
func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [10]byte
	n := 0
	tmp[len(tmp)-1] = byte(v & 0x7f)
	n++
	v >>= 7
	for v > 0 {
		n++
		tmp[len(tmp)-n] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	buf.Write(tmp[len(tmp)-n:])
}

func readVarint(r *bytes.Reader) (uint64, error) {
	var v uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("negentropy: truncated varint")
		}
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return v, nil
}

// HexEncode and HexDecode wrap the wire format for transport inside
// NEG-OPEN/NEG-MSG, which carry hex strings rather than raw bytes.
func HexEncode(b []byte) string { return hex.EncodeToString(b) }

func HexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }
