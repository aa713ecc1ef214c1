package rar

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"strings"

	"github.com/javi11/nzbinspect/internal/archive"
	"golang.org/x/text/encoding/charmap"
)

const (
	rar4BaseHeaderSize = 7
	rar4LongHeaderSize = 11
	rar4SaltSize       = 8

	rar4BlockMark   = 0x72
	rar4BlockMain   = 0x73
	rar4BlockFile   = 0x74
	rar4BlockNewSub = 0x7a
	rar4BlockEnd    = 0x7b

	rar4MainSolid    = 0x0008
	rar4MainPassword = 0x0080

	rar4FileEncrypted = 0x0004
	rar4FileSolid     = 0x0010
	rar4FileDirMask   = 0x00e0
	rar4FileLarge     = 0x0100
	rar4FileUnicode   = 0x0200
	rar4LongBlock     = 0x8000

	rar4MethodStore = 0x30
)

type header4 struct {
	crc     uint16
	typ     byte
	flags   uint16
	size    int
	addSize uint64
}

// readHeader4 decodes the fixed block prefix at the start of b. The returned
// add size includes the high 32 bits of large file headers.
func readHeader4(b []byte) (header4, error) {
	if len(b) < rar4BaseHeaderSize {
		return header4{}, errShort
	}
	h := header4{
		crc:   binary.LittleEndian.Uint16(b[0:]),
		typ:   b[2],
		flags: binary.LittleEndian.Uint16(b[3:]),
		size:  int(binary.LittleEndian.Uint16(b[5:])),
	}
	if h.size < rar4BaseHeaderSize {
		return h, errCorrupt
	}
	if h.size > len(b) {
		return h, errShort
	}
	if h.flags&rar4LongBlock != 0 || h.typ == rar4BlockFile || h.typ == rar4BlockNewSub {
		if h.size < rar4LongHeaderSize {
			return h, errCorrupt
		}
		h.addSize = uint64(binary.LittleEndian.Uint32(b[7:]))
		if h.typ == rar4BlockFile && h.flags&rar4FileLarge != 0 && h.size >= 36 {
			h.addSize |= uint64(binary.LittleEndian.Uint32(b[32:])) << 32
		}
	}
	return h, nil
}

func (h header4) crcOK(b []byte) bool {
	return uint16(crc32.ChecksumIEEE(b[2:h.size])) == h.crc
}

func (i *Inspector) inspect4(data []byte, password string, depth int, headersOnly bool) archive.Verdict {
	w := &walk{}
	pos := len(sigRAR4)

	for pos < len(data) {
		h, err := readHeader4(data[pos:])
		switch err {
		case nil:
		case errShort:
			return w.truncated()
		default:
			return corrupt(archive.ReasonHeaderParse)
		}
		block := data[pos : pos+h.size]

		switch h.typ {
		case rar4BlockMain:
			if h.flags&rar4MainSolid != 0 {
				w.solidArchive = true
			}
			if h.flags&rar4MainPassword != 0 {
				return i.decrypt4(data, pos+h.size, h.flags, password, depth)
			}
		case rar4BlockFile:
			if !h.crcOK(block) {
				return corrupt(archive.ReasonCRCMismatch)
			}
			e, err := parseFile4(block, h.flags)
			if err != nil {
				return corrupt(archive.ReasonHeaderParse)
			}
			if v, done := w.add(e); done {
				return v
			}
		case rar4BlockEnd:
			return w.verdict()
		}

		next := uint64(pos) + uint64(h.size)
		if !headersOnly {
			next += h.addSize
		}
		if next > uint64(len(data)) {
			return w.truncated()
		}
		pos = int(next)
	}

	return w.verdict()
}

func parseFile4(block []byte, flags uint16) (entry, error) {
	r := newReader(block)
	if err := r.skip(rar4BaseHeaderSize + 4 + 4 + 1 + 4 + 4 + 1); err != nil {
		return entry{}, err
	}
	method, err := r.u8()
	if err != nil {
		return entry{}, err
	}
	nameSize, err := r.u16()
	if err != nil {
		return entry{}, err
	}
	if err := r.skip(4); err != nil {
		return entry{}, err
	}
	if flags&rar4FileLarge != 0 {
		if err := r.skip(8); err != nil {
			return entry{}, err
		}
	}
	raw, err := r.bytes(int(nameSize))
	if err != nil {
		return entry{}, err
	}

	return entry{
		name:      decodeName4(raw, flags&rar4FileUnicode != 0),
		method:    int(method),
		stored:    method == rar4MethodStore,
		encrypted: flags&rar4FileEncrypted != 0,
		solid:     flags&rar4FileSolid != 0,
		dir:       flags&rar4FileDirMask == rar4FileDirMask,
	}, nil
}

// decodeName4 returns the printable name of a RAR4 file header. Unicode names
// keep only the plain part before the NUL separator; legacy names are OEM encoded.
func decodeName4(raw []byte, unicode bool) string {
	if unicode {
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		return strings.ReplaceAll(string(raw), `\`, "/")
	}

	name := string(raw)
	for _, c := range raw {
		if c >= 0x80 {
			if decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw); err == nil {
				name = string(decoded)
			}
			break
		}
	}
	return strings.ReplaceAll(name, `\`, "/")
}

// decrypt4 handles archives whose headers after the main header are encrypted.
// Each block is an 8 byte salt followed by the AES-128-CBC encrypted header
// padded to 16 bytes; packed data between blocks stays as-is. mainFlags are
// the flags of the plaintext main header.
func (i *Inspector) decrypt4(data []byte, start int, mainFlags uint16, password string, depth int) archive.Verdict {
	if password == "" {
		return decryptFail(archive.ReasonMissingPassword)
	}
	if depth >= maxDecryptDepth {
		return corrupt(archive.ReasonDepthExceeded)
	}

	keys := make(map[string]rar3Key)
	synthetic := append(bytes.Clone(sigRAR4), mainHeader4(mainFlags&^rar4MainPassword)...)
	blocks := 0
	truncated := false

	for p := start; p < len(data); {
		if len(data)-p < rar4SaltSize+16 {
			truncated = true
			break
		}
		salt := data[p : p+rar4SaltSize]
		k, ok := keys[string(salt)]
		if !ok {
			var err error
			if k, err = deriveRAR3Key(password, salt); err != nil {
				return decryptFail(archive.ReasonDecryptFailed)
			}
			keys[string(salt)] = k
		}

		body := data[p+rar4SaltSize:]
		first, err := decryptCBC(k.key[:], k.iv[:], body[:16])
		if err != nil {
			return decryptFail(archive.ReasonDecryptFailed)
		}
		size := int(binary.LittleEndian.Uint16(first[5:]))
		if typ := first[2]; typ < rar4BlockMark || typ > rar4BlockEnd || size < rar4BaseHeaderSize {
			return i.badBlock4(blocks)
		}
		encLen := align16(size)
		if encLen > len(body) {
			truncated = true
			break
		}

		plain, err := decryptCBC(k.key[:], k.iv[:], body[:encLen])
		if err != nil {
			return decryptFail(archive.ReasonDecryptFailed)
		}
		h, err := readHeader4(plain[:size])
		if err != nil || !h.crcOK(plain) {
			return i.badBlock4(blocks)
		}

		blocks++
		synthetic = append(synthetic, plain[:size]...)
		if h.typ == rar4BlockEnd {
			break
		}

		next := uint64(p) + rar4SaltSize + uint64(encLen) + h.addSize
		if next > uint64(len(data)) {
			truncated = true
			break
		}
		p = int(next)
	}

	if blocks == 0 {
		if truncated {
			return archive.WithReason(archive.StatusRarInsufficientData, archive.ReasonTruncated)
		}
		return archive.NewVerdict(archive.StatusRarHeaderNotFound, nil)
	}

	i.log.Debug("Decrypted RAR4 headers", "blocks", blocks, "truncated", truncated)

	return decrypted(i.inspect4(synthetic, password, depth+1, true), truncated)
}

// mainHeader4 builds a main header block carrying flags.
func mainHeader4(flags uint16) []byte {
	b := make([]byte, rar4BaseHeaderSize+6)
	b[2] = rar4BlockMain
	binary.LittleEndian.PutUint16(b[3:], flags)
	binary.LittleEndian.PutUint16(b[5:], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[0:], uint16(crc32.ChecksumIEEE(b[2:])))
	return b
}

// badBlock4 reports an undecodable encrypted block. The first block failing
// its checksum means the password is wrong; later failures are corruption.
func (i *Inspector) badBlock4(blocks int) archive.Verdict {
	if blocks == 0 {
		i.log.Debug("RAR4 header decryption failed", "reason", archive.ReasonWrongPassword)
		return decryptFail(archive.ReasonWrongPassword)
	}
	return corrupt(archive.ReasonCRCMismatch)
}
