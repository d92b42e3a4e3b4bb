// Package header encodes and decodes the binary preamble every ciphertext
// frame carries: version, algorithm id, IV, and the wrapped data key.
package header

import (
	"encoding/binary"

	"github.com/sage-x-project/ubiq/algorithm"
	"github.com/sage-x-project/ubiq/internal/errs"
)

// Version is the only header version this codec understands.
const Version = 0

// minLen is the size of the fixed-layout prefix before IV/wrapped-key
// bytes: version(1) + reserved(1) + algorithm id(1) + ivlen(1) + keylen(2).
const minLen = 6

// Header is the parsed form of a ciphertext frame's preamble.
type Header struct {
	Version     uint8
	Algorithm   algorithm.Spec
	IV          []byte
	WrappedKey  []byte
}

// Encode lays out the wire format for spec, a freshly generated IV, and the
// wrapped data key to embed. The caller is responsible for ensuring
// len(iv) == spec.IVLen; Encode trusts its inputs since it's only ever
// called from within an already-validated session.
func Encode(spec algorithm.Spec, iv, wrappedKey []byte) []byte {
	out := make([]byte, minLen+len(iv)+len(wrappedKey))
	out[0] = Version
	out[1] = 0 // reserved
	out[2] = spec.ID
	out[3] = uint8(len(iv))
	binary.BigEndian.PutUint16(out[4:6], uint16(len(wrappedKey)))
	copy(out[minLen:], iv)
	copy(out[minLen+len(iv):], wrappedKey)
	return out
}

// Decode parses the leading bytes of frame as a Header. It rejects an
// unsupported version, an unknown algorithm id, an IV length mismatched
// against the algorithm's registered IV length, and a frame too short to
// contain the IV and wrapped key it claims to carry.
func Decode(frame []byte) (Header, int, error) {
	if len(frame) < minLen {
		return Header{}, 0, errs.New(errs.ProtocolViolation, "frame shorter than header prefix")
	}

	version := frame[0]
	if version != Version {
		return Header{}, 0, errs.New(errs.ProtocolViolation, "unsupported header version")
	}

	spec, err := algorithm.ByID(frame[2])
	if err != nil {
		return Header{}, 0, errs.Wrap(errs.ProtocolViolation, "unknown algorithm id in header", err)
	}

	ivLen := int(frame[3])
	if ivLen != spec.IVLen {
		return Header{}, 0, errs.New(errs.ProtocolViolation, "iv length does not match algorithm")
	}

	keyLen := int(binary.BigEndian.Uint16(frame[4:6]))
	total := minLen + ivLen + keyLen
	if len(frame) < total {
		return Header{}, 0, errs.New(errs.ProtocolViolation, "frame truncated before wrapped key end")
	}

	iv := make([]byte, ivLen)
	copy(iv, frame[minLen:minLen+ivLen])

	wrappedKey := make([]byte, keyLen)
	copy(wrappedKey, frame[minLen+ivLen:total])

	return Header{
		Version:    version,
		Algorithm:  spec,
		IV:         iv,
		WrappedKey: wrappedKey,
	}, total, nil
}
