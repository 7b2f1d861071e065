package collector

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/logging"
	"github.com/webperf/vitals-tools/util"
)

// Spool is a bounded persistent queue of batches that could not be
// transmitted. When the bound is exceeded the oldest batch is dropped, so
// prolonged offline periods cannot grow the spool without limit. An empty
// path keeps the spool in memory only.
type Spool struct {
	mutex       sync.Mutex
	path        string
	limit       int
	compression byte
	batches     []*vitals.Batch
}

// OpenSpool opens the spool file at path, loading any batches left over
// from a previous run.
func OpenSpool(path string, limit int, compression byte) (*Spool, error) {
	s := &Spool{path: path, limit: limit, compression: compression}
	if path == "" {
		return s, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	defer f.Close()
	s.batches = readRecords(f)
	return s, nil
}

// Spool records are framed as a 4 byte big endian payload length, 1 byte
// compression method, payload. A truncated tail is discarded, not an error.
func readRecords(r io.Reader) []*vitals.Batch {
	batches := []*vitals.Batch{}
	header := make([]byte, 5)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err != io.EOF {
				logging.Warn("discarding truncated spool record: %s", err)
			}
			return batches
		}
		payload := make([]byte, binary.BigEndian.Uint32(header[:4]))
		if _, err := io.ReadFull(r, payload); err != nil {
			logging.Warn("discarding truncated spool record: %s", err)
			return batches
		}
		data, err := util.Decompress(payload, header[4])
		if err != nil {
			logging.Warn("skipping undecodable spool record: %s", err)
			continue
		}
		batch := &vitals.Batch{}
		if err := json.Unmarshal(data, batch); err != nil {
			logging.Warn("skipping undecodable spool record: %s", err)
			continue
		}
		batches = append(batches, batch)
	}
}

func (s *Spool) persist() {
	if s.path == "" {
		return
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		logging.Error("could not write spool file: %s", err)
		return
	}
	header := make([]byte, 5)
	for _, batch := range s.batches {
		data, err := json.Marshal(batch)
		if err != nil {
			continue
		}
		method := s.compression
		payload, err := util.Compress(data, method)
		if err != nil {
			// incompressible data is stored as is
			payload = data
			method = util.NoCompression
		}
		binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
		header[4] = method
		f.Write(header)
		f.Write(payload)
	}
	if err := f.Close(); err != nil {
		logging.Error("could not close spool file: %s", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logging.Error("could not replace spool file: %s", err)
	}
}

// Enqueue adds a batch, dropping the oldest one when the spool is full.
func (s *Spool) Enqueue(batch *vitals.Batch) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.batches = append(s.batches, batch)
	if s.limit > 0 && len(s.batches) > s.limit {
		dropped := len(s.batches) - s.limit
		s.batches = append(s.batches[:0], s.batches[dropped:]...)
		logging.Warn("spool full, dropped %d oldest batch(es)", dropped)
	}
	s.persist()
}

// DrainAll removes and returns all spooled batches, oldest first.
func (s *Spool) DrainAll() []*vitals.Batch {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	batches := s.batches
	s.batches = nil
	s.persist()
	return batches
}

// Len returns the number of spooled batches.
func (s *Spool) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.batches)
}
