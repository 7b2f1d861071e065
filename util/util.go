package util

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
)

const (
	MetaInfoVersion = 1
	MetaInfoTag     = 0xcabd

	NoCompression     = 0
	ZlibCompression   = 1
	SnappyCompression = 2
	LZ4Compression    = 3
)

// CurrentTimeMillis returns the current time as epoch milliseconds, the
// timestamp format used throughout the vitals wire protocol.
func CurrentTimeMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// MetaInfo describes the trailing meta frame attached to every published
// vitals message.
type MetaInfo struct {
	Tag               uint16
	CompressionMethod uint8
	Version           uint8
	DeviceNumber      uint32
	Timestamp         uint64
	SequenceNumber    uint64
}

func PackInfo(seqNum uint64, deviceID uint32, compression byte) []byte {
	data := make([]byte, 24)
	binary.BigEndian.PutUint16(data, MetaInfoTag)
	data[2] = compression
	data[3] = MetaInfoVersion
	binary.BigEndian.PutUint32(data[4:8], deviceID)
	binary.BigEndian.PutUint64(data[8:16], uint64(CurrentTimeMillis()))
	binary.BigEndian.PutUint64(data[16:24], seqNum)
	return data
}

func UnpackInfo(data []byte) *MetaInfo {
	if len(data) != 24 {
		return nil
	}
	info := &MetaInfo{
		Tag:               binary.BigEndian.Uint16(data[0:2]),
		CompressionMethod: data[2],
		Version:           data[3],
		DeviceNumber:      binary.BigEndian.Uint32(data[4:8]),
		Timestamp:         binary.BigEndian.Uint64(data[8:16]),
		SequenceNumber:    binary.BigEndian.Uint64(data[16:24]),
	}
	return info
}

func Decompress(data []byte, method uint8) ([]byte, error) {
	switch method {
	case LZ4Compression:
		decompressedLen := binary.BigEndian.Uint32(data[:4])
		decompressed := make([]byte, decompressedLen)
		_, err := lz4.UncompressBlock(data[4:], decompressed)
		return decompressed, err
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case ZlibCompression:
		buf := bytes.NewBuffer(data)
		reader, err := zlib.NewReader(buf)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		decompressed, err := ioutil.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		return decompressed, nil
	}
	return data, nil
}

func Compress(data []byte, method uint8) ([]byte, error) {
	switch method {
	case LZ4Compression:
		hashTable := make([]int, 64<<10)
		maxCompressedLen := lz4.CompressBlockBound(len(data))
		buf := make([]byte, maxCompressedLen+4)
		binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
		n, err := lz4.CompressBlock(data, buf[4:], hashTable)
		if n >= len(data) {
			return nil, errors.New("data is not compressible")
		}
		return buf[:n+4], err
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case ZlibCompression:
		var b bytes.Buffer
		w := zlib.NewWriter(&b)
		w.Write(data)
		w.Close()
		return b.Bytes(), nil
	}
	return data, nil
}

// ParseCompressionMethodName converts string to compression method
func ParseCompressionMethodName(name string) (method uint8, err error) {
	switch name {
	case "lz4":
		method = LZ4Compression
	case "snappy":
		method = SnappyCompression
	case "zlib":
		method = ZlibCompression
	case "":
		method = NoCompression
	default:
		err = fmt.Errorf("unknown compression method: %s", name)
	}
	return
}

// WaitForWaitGroupWithTimeout waits for a wait group wg but times out.
func WaitForWaitGroupWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}

var interrupted uint32

// InstallSignalHandler installs a signal handler for interrupts and TERM signal.
func InstallSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		atomic.StoreUint32(&interrupted, 1)
		signal.Stop(c)
	}()
}

// Interrupted returns whether an interrupt or TERM signal has been received
func Interrupted() bool {
	return atomic.LoadUint32(&interrupted) == 1
}
