package inspector

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/javi11/nzbinspect/internal/errors"
	"github.com/javi11/nzbinspect/internal/nzb"
	"github.com/mnightingale/rapidyenc"
)

func le16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
func le64(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// yencEncode wraps data in a single-part yEnc body.
func yencEncode(name string, data []byte) []byte {
	var buf bytes.Buffer
	enc, err := rapidyenc.NewEncoder(&buf, rapidyenc.Meta{
		FileName:   name,
		FileSize:   int64(len(data)),
		PartSize:   int64(len(data)),
		PartNumber: 1,
		TotalParts: 1,
	})
	if err != nil {
		panic(err)
	}
	if _, err := enc.Write(data); err != nil {
		panic(err)
	}
	if err := enc.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func rar4Block(typ byte, flags uint16, fields []byte) []byte {
	body := concat([]byte{typ}, le16(flags), le16(uint16(7+len(fields))), fields)
	return concat(le16(uint16(crc32.ChecksumIEEE(body))), body)
}

// rar4Archive builds a RAR4 archive with one file entry per name using method.
func rar4Archive(method byte, names ...string) []byte {
	out := concat([]byte("Rar!\x1a\x07\x00"), rar4Block(0x73, 0, make([]byte, 6)))
	for _, name := range names {
		fields := concat(
			le32(0), le32(0), []byte{2}, le32(0), le32(0),
			[]byte{29, method}, le16(uint16(len(name))), le32(0x20), []byte(name),
		)
		out = concat(out, rar4Block(0x74, 0x8000, fields))
	}
	return concat(out, rar4Block(0x7b, 0x4000, nil))
}

// zipEntry builds one local file header followed by data.
func zipEntry(name string, flags, method uint16, data []byte) []byte {
	return concat(
		[]byte("PK\x03\x04"), le16(20), le16(flags), le16(method), le16(0), le16(0),
		le32(crc32.ChecksumIEEE(data)), le32(uint32(len(data))), le32(uint32(len(data))),
		le16(uint16(len(name))), le16(0), []byte(name), data,
	)
}

// sevenZipHead builds a 7z start header announcing a next header of nextSize bytes.
func sevenZipHead(nextOffset, nextSize uint64) []byte {
	tail := concat(le64(nextOffset), le64(nextSize), le32(0))
	return concat([]byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c, 0, 4}, le32(crc32.ChecksumIEEE(tail)), tail)
}

func entry(filename string, ids ...string) nzb.FileEntry {
	segs := make([]nzb.Segment, 0, len(ids))
	for n, id := range ids {
		segs = append(segs, nzb.Segment{Number: n + 1, Bytes: 1000, ID: id})
	}
	return nzb.FileEntry{
		Subject:   fmt.Sprintf("%q yEnc (1/%d)", filename, len(ids)),
		Filename:  filename,
		Extension: nzb.Extension(filename),
		Segments:  segs,
	}
}

// fakeSource serves yEnc bodies from memory and records every call.
type fakeSource struct {
	mu     sync.Mutex
	bodies map[string][]byte
	err    error
	gate   chan struct{}
	bodyN  map[string]int
	stats  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{bodies: map[string][]byte{}, bodyN: map[string]int{}}
}

func (s *fakeSource) put(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[id] = yencEncode(id, data)
}

func (s *fakeSource) putRaw(id string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[id] = body
}

func (s *fakeSource) FetchBody(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	s.bodyN[id]++
	gate, err := s.gate, s.err
	body, ok := s.bodies[id]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("body %s: %w", id, errors.ErrArticleNotFound)
	}
	return body, nil
}

func (s *fakeSource) Stat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, id)
	if s.err != nil {
		return s.err
	}
	if _, ok := s.bodies[id]; !ok {
		return fmt.Errorf("stat %s: %w", id, errors.ErrArticleNotFound)
	}
	return nil
}

func (s *fakeSource) fetches(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodyN[id]
}
