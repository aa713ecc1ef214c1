package sevenzip

import (
	"encoding/hex"
	"fmt"
)

// Property ids of the 7z metadata tree.
const (
	idEnd                   = 0x00
	idHeader                = 0x01
	idArchiveProperties     = 0x02
	idAdditionalStreamsInfo = 0x03
	idMainStreamsInfo       = 0x04
	idFilesInfo             = 0x05
	idPackInfo              = 0x06
	idUnpackInfo            = 0x07
	idSubStreamsInfo        = 0x08
	idSize                  = 0x09
	idCRC                   = 0x0a
	idFolder                = 0x0b
	idCodersUnpackSize      = 0x0c
	idNumUnpackStream       = 0x0d
	idEmptyStream           = 0x0e
	idName                  = 0x11
	idEncodedHeader         = 0x17
)

const (
	maxCoders     = 32
	maxFolders    = 1 << 16
	maxSubstreams = 1 << 20
	maxHeaderSize = 64 << 20
)

// Coder method ids.
const (
	methodCopy  = "00"
	methodLZMA  = "030101"
	methodLZMA2 = "21"
	methodAES   = "06f10701"
)

var coderNames = map[string]string{
	methodCopy:  "copy",
	methodLZMA:  "lzma",
	methodLZMA2: "lzma2",
	methodAES:   "aes",
	"030401":    "ppmd",
	"03030103":  "bcj",
	"0303011b":  "bcj2",
	"03":        "delta",
	"040108":    "deflate",
	"040109":    "deflate64",
	"040202":    "bzip2",
	"04f71101":  "zstd",
}

// coderName returns a readable name for a coder method id.
func coderName(method string) string {
	if name, ok := coderNames[method]; ok {
		return name
	}
	return method
}

type coder struct {
	id     []byte
	numIn  int
	numOut int
	props  []byte
}

// method returns the hex coder id, for example "030101" for LZMA.
func (c coder) method() string {
	return hex.EncodeToString(c.id)
}

type bindPair struct {
	in  int
	out int
}

type folder struct {
	coders      []coder
	bindPairs   []bindPair
	packed      []int
	unpackSizes []uint64
	crc         uint32
	hasCRC      bool
}

func (f folder) totalOut() int {
	n := 0
	for _, c := range f.coders {
		n += c.numOut
	}
	return n
}

type streamsInfo struct {
	packPos   uint64
	packSizes []uint64
	folders   []folder
}

type header struct {
	main  *streamsInfo
	files int
}

func expect(r *reader, id uint64) error {
	got, err := r.number()
	if err != nil {
		return err
	}
	if got != id {
		return fmt.Errorf("%w: expected property 0x%02x, got 0x%02x", errCorrupt, id, got)
	}
	return nil
}

func readStreamsInfo(r *reader) (*streamsInfo, error) {
	si := &streamsInfo{}

	id, err := r.number()
	if err != nil {
		return nil, err
	}
	if id == idPackInfo {
		if err := readPackInfo(r, si); err != nil {
			return nil, err
		}
		if id, err = r.number(); err != nil {
			return nil, err
		}
	}
	if id == idUnpackInfo {
		if err := readUnpackInfo(r, si); err != nil {
			return nil, err
		}
		if id, err = r.number(); err != nil {
			return nil, err
		}
	}
	if id == idSubStreamsInfo {
		if err := readSubStreamsInfo(r, si); err != nil {
			return nil, err
		}
		if id, err = r.number(); err != nil {
			return nil, err
		}
	}
	if id != idEnd {
		return nil, fmt.Errorf("%w: streams info not terminated", errCorrupt)
	}

	return si, nil
}

func readPackInfo(r *reader, si *streamsInfo) error {
	var err error
	if si.packPos, err = r.number(); err != nil {
		return err
	}
	n, err := r.count()
	if err != nil {
		return err
	}

	for {
		id, err := r.number()
		if err != nil {
			return err
		}
		switch id {
		case idEnd:
			return nil
		case idSize:
			si.packSizes = make([]uint64, n)
			for i := range si.packSizes {
				if si.packSizes[i], err = r.number(); err != nil {
					return err
				}
			}
		case idCRC:
			if err := skipDigests(r, n); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected pack info property 0x%02x", errCorrupt, id)
		}
	}
}

func readUnpackInfo(r *reader, si *streamsInfo) error {
	if err := expect(r, idFolder); err != nil {
		return err
	}
	n, err := r.count()
	if err != nil {
		return err
	}
	if n > maxFolders {
		return fmt.Errorf("%w: %d folders", errCorrupt, n)
	}
	if external, err := r.u8(); err != nil {
		return err
	} else if external != 0 {
		return fmt.Errorf("%w: external folders", errCorrupt)
	}

	si.folders = make([]folder, n)
	for i := range si.folders {
		if si.folders[i], err = readFolder(r); err != nil {
			return err
		}
	}

	if err := expect(r, idCodersUnpackSize); err != nil {
		return err
	}
	for i := range si.folders {
		f := &si.folders[i]
		f.unpackSizes = make([]uint64, f.totalOut())
		for j := range f.unpackSizes {
			if f.unpackSizes[j], err = r.number(); err != nil {
				return err
			}
		}
	}

	id, err := r.number()
	if err != nil {
		return err
	}
	if id == idCRC {
		defined, err := r.optionalBits(n)
		if err != nil {
			return err
		}
		for i, ok := range defined {
			if !ok {
				continue
			}
			if si.folders[i].crc, err = r.u32(); err != nil {
				return err
			}
			si.folders[i].hasCRC = true
		}
		if id, err = r.number(); err != nil {
			return err
		}
	}
	if id != idEnd {
		return fmt.Errorf("%w: unpack info not terminated", errCorrupt)
	}

	return nil
}

func readFolder(r *reader) (folder, error) {
	var f folder

	numCoders, err := r.count()
	if err != nil {
		return f, err
	}
	if numCoders == 0 || numCoders > maxCoders {
		return f, fmt.Errorf("%w: %d coders", errCorrupt, numCoders)
	}

	totalIn, totalOut := 0, 0
	for i := 0; i < numCoders; i++ {
		flag, err := r.u8()
		if err != nil {
			return f, err
		}
		if flag&0x80 != 0 {
			return f, fmt.Errorf("%w: alternative coder methods", errCorrupt)
		}
		c := coder{numIn: 1, numOut: 1}
		if c.id, err = r.bytes(uint64(flag & 0x0f)); err != nil {
			return f, err
		}
		if flag&0x10 != 0 {
			if c.numIn, err = r.count(); err != nil {
				return f, err
			}
			if c.numOut, err = r.count(); err != nil {
				return f, err
			}
			if c.numIn > maxCoders || c.numOut > maxCoders {
				return f, fmt.Errorf("%w: coder stream count", errCorrupt)
			}
		}
		if flag&0x20 != 0 {
			size, err := r.number()
			if err != nil {
				return f, err
			}
			if c.props, err = r.bytes(size); err != nil {
				return f, err
			}
		}
		totalIn += c.numIn
		totalOut += c.numOut
		f.coders = append(f.coders, c)
	}

	if totalOut == 0 {
		return f, fmt.Errorf("%w: folder without output", errCorrupt)
	}
	for i := 0; i < totalOut-1; i++ {
		in, err := r.number()
		if err != nil {
			return f, err
		}
		out, err := r.number()
		if err != nil {
			return f, err
		}
		if in >= uint64(totalIn) || out >= uint64(totalOut) {
			return f, fmt.Errorf("%w: bind pair out of range", errCorrupt)
		}
		f.bindPairs = append(f.bindPairs, bindPair{in: int(in), out: int(out)})
	}

	numPacked := totalIn - len(f.bindPairs)
	if numPacked < 1 {
		return f, fmt.Errorf("%w: folder without packed stream", errCorrupt)
	}
	if numPacked == 1 {
		for i := 0; i < totalIn; i++ {
			bound := false
			for _, bp := range f.bindPairs {
				if bp.in == i {
					bound = true
					break
				}
			}
			if !bound {
				f.packed = []int{i}
				break
			}
		}
		return f, nil
	}
	for i := 0; i < numPacked; i++ {
		idx, err := r.number()
		if err != nil {
			return f, err
		}
		f.packed = append(f.packed, int(idx))
	}

	return f, nil
}

func readSubStreamsInfo(r *reader, si *streamsInfo) error {
	streams := make([]int, len(si.folders))
	for i := range streams {
		streams[i] = 1
	}

	id, err := r.number()
	if err != nil {
		return err
	}
	if id == idNumUnpackStream {
		// Every substream costs at least one byte further on.
		limit := min(r.remaining(), maxSubstreams)
		total := 0
		for i := range streams {
			if streams[i], err = r.count(); err != nil {
				return err
			}
			total += streams[i]
			if total > limit {
				return fmt.Errorf("%w: %d substreams", errCorrupt, total)
			}
		}
		if id, err = r.number(); err != nil {
			return err
		}
	}
	if id == idSize {
		for _, n := range streams {
			for j := 1; j < n; j++ {
				if _, err := r.number(); err != nil {
					return err
				}
			}
		}
		if id, err = r.number(); err != nil {
			return err
		}
	}

	digests := 0
	for i, n := range streams {
		if n != 1 || !si.folders[i].hasCRC {
			digests += n
		}
	}
	for id != idEnd {
		if id != idCRC {
			return fmt.Errorf("%w: unexpected substreams property 0x%02x", errCorrupt, id)
		}
		if err := skipDigests(r, digests); err != nil {
			return err
		}
		if id, err = r.number(); err != nil {
			return err
		}
	}

	return nil
}

func skipDigests(r *reader, n int) error {
	defined, err := r.optionalBits(n)
	if err != nil {
		return err
	}
	for _, ok := range defined {
		if ok {
			if err := r.skip(4); err != nil {
				return err
			}
		}
	}
	return nil
}

// readFilesInfo checks the property framing of the files record. Names and
// attributes are left to the archive reader.
func readFilesInfo(r *reader, h *header) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	if n > r.remaining() {
		return fmt.Errorf("%w: %d files", errCorrupt, n)
	}
	h.files = n

	for {
		typ, err := r.number()
		if err != nil {
			return err
		}
		if typ == idEnd {
			return nil
		}
		size, err := r.number()
		if err != nil {
			return err
		}
		data, err := r.bytes(size)
		if err != nil {
			return err
		}
		if typ == idEmptyStream {
			sub := &reader{buf: data}
			if _, err := sub.bitField(n); err != nil {
				return err
			}
		}
	}
}

func readHeader(r *reader) (*header, error) {
	h := &header{}

	id, err := r.number()
	if err != nil {
		return nil, err
	}
	if id == idArchiveProperties {
		for {
			typ, err := r.number()
			if err != nil {
				return nil, err
			}
			if typ == idEnd {
				break
			}
			size, err := r.number()
			if err != nil {
				return nil, err
			}
			if err := r.skip(size); err != nil {
				return nil, err
			}
		}
		if id, err = r.number(); err != nil {
			return nil, err
		}
	}
	if id == idAdditionalStreamsInfo {
		if _, err := readStreamsInfo(r); err != nil {
			return nil, err
		}
		if id, err = r.number(); err != nil {
			return nil, err
		}
	}
	if id == idMainStreamsInfo {
		if h.main, err = readStreamsInfo(r); err != nil {
			return nil, err
		}
		if id, err = r.number(); err != nil {
			return nil, err
		}
	}
	if id == idFilesInfo {
		if err := readFilesInfo(r, h); err != nil {
			return nil, err
		}
		if id, err = r.number(); err != nil {
			return nil, err
		}
	}
	if id != idEnd {
		return nil, fmt.Errorf("%w: header not terminated", errCorrupt)
	}

	return h, nil
}
