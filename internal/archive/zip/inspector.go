// Package zip classifies ZIP archives by walking their local file headers.
package zip

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/javi11/nzbinspect/internal/archive"
)

var (
	sigLocal   = []byte("PK\x03\x04")
	sigCentral = []byte("PK\x01\x02")
	sigEnd     = []byte("PK\x05\x06")
	sigSpan    = []byte("PK\x07\x08")
)

const (
	localHeaderSize = 30

	flagEncrypted  = 0x0001
	flagDescriptor = 0x0008
	flagUTF8       = 0x0800

	methodStore = 0

	zip64Sentinel = 0xffffffff
)

// IsZip reports whether data starts with a local file header or a split archive marker.
func IsZip(data []byte) bool {
	return bytes.HasPrefix(data, sigLocal) || bytes.HasPrefix(data, sigSpan)
}

// Inspector classifies ZIP archives. It is safe for concurrent use.
type Inspector struct {
	log *slog.Logger
}

// NewInspector creates a ZIP inspector.
func NewInspector() *Inspector {
	return &Inspector{
		log: slog.Default().With("component", "zip-inspector"),
	}
}

// Inspect walks local file headers from the start of data. ZIP results use the
// RAR status vocabulary.
func (i *Inspector) Inspect(data []byte) archive.Verdict {
	pos := 0
	if bytes.HasPrefix(data, sigSpan) {
		pos = len(sigSpan)
	}
	if !bytes.HasPrefix(data[pos:], sigLocal) {
		if len(data) < len(sigLocal) && bytes.HasPrefix(sigLocal, data) {
			return archive.WithReason(archive.StatusRarInsufficientData, archive.ReasonTruncated)
		}
		return archive.WithReason(archive.StatusRarHeaderNotFound, archive.ReasonSignatureMismatch)
	}

	w := walk{tally: archive.Tally{}}
	for {
		if pos+4 > len(data) {
			return w.truncated()
		}
		sig := data[pos : pos+4]
		if bytes.Equal(sig, sigCentral) || bytes.Equal(sig, sigEnd) {
			return w.tally.RarVerdict()
		}
		if !bytes.Equal(sig, sigLocal) {
			i.log.Debug("zip walk stopped at unknown record", "offset", pos)
			return w.tally.RarVerdict()
		}
		if pos+localHeaderSize > len(data) {
			return w.truncated()
		}

		h := data[pos : pos+localHeaderSize]
		flags := binary.LittleEndian.Uint16(h[6:])
		method := binary.LittleEndian.Uint16(h[8:])
		compSize := binary.LittleEndian.Uint32(h[18:])
		nameLen := int(binary.LittleEndian.Uint16(h[26:]))
		extraLen := int(binary.LittleEndian.Uint16(h[28:]))

		if compSize == zip64Sentinel {
			return archive.WithReason(archive.StatusRarInsufficientData, archive.ReasonZip64)
		}
		nameStart := pos + localHeaderSize
		if nameStart+nameLen > len(data) {
			return w.truncated()
		}
		name := decodeName(data[nameStart:nameStart+nameLen], flags&flagUTF8 != 0)

		if v, done := w.add(name, flags, method); done {
			return v
		}

		if flags&flagDescriptor != 0 && compSize == 0 {
			// Sizes live in a trailing data descriptor; the next header cannot be located.
			return w.tally.RarVerdict()
		}
		next := int64(nameStart) + int64(nameLen) + int64(extraLen) + int64(compSize)
		if next > int64(len(data)) {
			return w.truncated()
		}
		pos = int(next)
	}
}

type walk struct {
	tally archive.Tally
}

func (w *walk) add(name string, flags, method uint16) (archive.Verdict, bool) {
	if strings.HasSuffix(name, "/") {
		w.tally.Observe(name)
		return archive.Verdict{}, false
	}

	var status archive.Status
	switch {
	case flags&flagEncrypted != 0:
		status = archive.StatusRarEncrypted
	case method != methodStore:
		status = archive.StatusRarCompressed
	case archive.IsISO(name):
		status = archive.StatusRarISOImage
	case archive.IsDiscStructure(name):
		status = archive.StatusRarDiscStructure
	}
	if status == "" {
		w.tally.AddStored(name)
		return archive.Verdict{}, false
	}

	w.tally.Observe(name)
	d := &archive.Details{
		Name:          name,
		SampleEntries: w.tally.Samples(),
		Encrypted:     status == archive.StatusRarEncrypted,
	}
	if status == archive.StatusRarCompressed {
		d.Method = archive.Method(int(method))
	}
	return archive.NewVerdict(status, d), true
}

func (w *walk) truncated() archive.Verdict {
	if w.tally.Entries > 0 {
		return w.tally.RarVerdict()
	}
	return archive.WithReason(archive.StatusRarInsufficientData, archive.ReasonTruncated)
}

// decodeName honours the UTF-8 flag and falls back to CP437 otherwise.
func decodeName(raw []byte, utf8Flag bool) string {
	name := string(raw)
	if !utf8Flag && !utf8.Valid(raw) {
		if decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw); err == nil {
			name = string(decoded)
		}
	}
	return strings.ReplaceAll(name, `\`, "/")
}
