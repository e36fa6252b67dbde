// Package encoding implements fixed-width binary encodings used outside
// the text envelope body (spec.md §6 "binary appendix"), grounded on the
// teacher's encoding.Int64 fixed-width little-endian Encode/Decode/Size
// idiom (encoding/int64.go) and adapted to a {data_type, length} header
// instead of a raw integer.
package encoding

import "encoding/binary"

// DataType tags what a binary appendix following an envelope's NUL
// terminator actually contains (spec.md §6: "the payload follows the
// envelope as raw bytes prefixed by an out-of-band {data_type, length}
// header").
type DataType uint8

const (
	DataTypeHexString DataType = iota
	DataTypeMmapRegion
)

// headerLen is DataType (1 byte) + Length (4 bytes, little-endian).
const headerLen = 5

// HeaderSize is the encoded byte length of a Header, exported so callers
// can size a buffer or split a trailing appendix without constructing a
// Header value first.
const HeaderSize = headerLen

// Header is the fixed-size descriptor prefixed to a binary appendix.
type Header struct {
	DataType DataType
	Length   uint32
}

func (h Header) Size() uint32 {
	return headerLen
}

func (h Header) Encode() []byte {
	buf := make([]byte, headerLen)
	h.EncodeToBuffer(buf)
	return buf
}

func (h Header) EncodeToBuffer(buf []byte) {
	buf[0] = byte(h.DataType)
	binary.LittleEndian.PutUint32(buf[1:], h.Length)
}

// DecodeHeader reverses Header.Encode. buf must be at least headerLen bytes.
func DecodeHeader(buf []byte) Header {
	return Header{
		DataType: DataType(buf[0]),
		Length:   binary.LittleEndian.Uint32(buf[1:5]),
	}
}
