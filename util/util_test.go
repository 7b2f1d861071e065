package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpackInfo(t *testing.T) {
	data := PackInfo(117, 42, SnappyCompression)
	info := UnpackInfo(data)
	assert.NotNil(t, info)
	assert.Equal(t, uint16(MetaInfoTag), info.Tag)
	assert.Equal(t, uint8(MetaInfoVersion), info.Version)
	assert.Equal(t, uint8(SnappyCompression), info.CompressionMethod)
	assert.Equal(t, uint32(42), info.DeviceNumber)
	assert.Equal(t, uint64(117), info.SequenceNumber)
}

func TestUnpackInfoRejectsWrongLength(t *testing.T) {
	assert.Nil(t, UnpackInfo([]byte("too short")))
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := []byte(`{"metrics":[{"name":"LCP","value":1234.5},{"name":"LCP","value":1234.5},{"name":"LCP","value":1234.5}]}`)
	for _, method := range []uint8{NoCompression, ZlibCompression, SnappyCompression, LZ4Compression} {
		compressed, err := Compress(payload, method)
		assert.NoError(t, err, "compress with method %d", method)
		decompressed, err := Decompress(compressed, method)
		assert.NoError(t, err, "decompress with method %d", method)
		assert.Equal(t, payload, decompressed, "round trip with method %d", method)
	}
}

func TestParseCompressionMethodName(t *testing.T) {
	m, err := ParseCompressionMethodName("snappy")
	assert.NoError(t, err)
	assert.Equal(t, uint8(SnappyCompression), m)
	m, err = ParseCompressionMethodName("")
	assert.NoError(t, err)
	assert.Equal(t, uint8(NoCompression), m)
	_, err = ParseCompressionMethodName("brotli")
	assert.Error(t, err)
}
