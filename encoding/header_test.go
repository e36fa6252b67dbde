package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{DataType: DataTypeMmapRegion, Length: 1024}
	buf := h.Encode()
	assert.Len(t, buf, int(h.Size()))

	got := DecodeHeader(buf)
	assert.Equal(t, h, got)
}

func TestHeaderEncodeToBufferMatchesEncode(t *testing.T) {
	h := Header{DataType: DataTypeHexString, Length: 42}
	buf := make([]byte, h.Size())
	h.EncodeToBuffer(buf)
	assert.Equal(t, h.Encode(), buf)
}
