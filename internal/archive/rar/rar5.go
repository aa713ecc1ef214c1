package rar

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"hash/crc32"
	"strings"

	"github.com/javi11/nzbinspect/internal/archive"
)

const (
	rar5MaxHeaderSize = 2 << 20

	rar5HeaderMain       = 1
	rar5HeaderFile       = 2
	rar5HeaderService    = 3
	rar5HeaderEncryption = 4
	rar5HeaderEnd        = 5

	rar5FlagExtra = 0x0001
	rar5FlagData  = 0x0002

	rar5ArchiveSolid = 0x0004

	rar5FileDirectory = 0x0001
	rar5FileTime      = 0x0002
	rar5FileCRC       = 0x0004

	rar5CompSolid = 0x0040

	rar5ExtraEncryption = 0x01

	rar5EncCheckPresent = 0x0001
)

type header5 struct {
	typ       uint64
	flags     uint64
	extraSize uint64
	dataSize  uint64
	total     int
	body      []byte // fields after the common header, extra area included
}

// readHeader5 decodes the header starting at b[0]. errShort means b ends
// before the header does.
func readHeader5(b []byte) (header5, bool, error) {
	var h header5
	if len(b) < 5 {
		return h, false, errShort
	}
	size, n, err := vintAt(b, 4)
	if err != nil {
		return h, false, err
	}
	if size == 0 || size > rar5MaxHeaderSize {
		return h, false, errCorrupt
	}
	h.total = 4 + n + int(size)
	if h.total > len(b) {
		return h, false, errShort
	}

	crcOK := crc32.ChecksumIEEE(b[4:h.total]) == binary.LittleEndian.Uint32(b)

	r := newReader(b[4+n : h.total])
	if h.typ, err = r.vint(); err != nil {
		return h, crcOK, errCorrupt
	}
	if h.flags, err = r.vint(); err != nil {
		return h, crcOK, errCorrupt
	}
	if h.flags&rar5FlagExtra != 0 {
		if h.extraSize, err = r.vint(); err != nil {
			return h, crcOK, errCorrupt
		}
	}
	if h.flags&rar5FlagData != 0 {
		if h.dataSize, err = r.vint(); err != nil {
			return h, crcOK, errCorrupt
		}
	}
	h.body = r.buf[r.pos:]
	if h.extraSize > uint64(len(h.body)) {
		return h, crcOK, errCorrupt
	}

	return h, crcOK, nil
}

func (i *Inspector) inspect5(data []byte, password string, depth int, headersOnly bool) archive.Verdict {
	w := &walk{}
	pos := len(sigRAR5)

	for pos < len(data) {
		h, crcOK, err := readHeader5(data[pos:])
		switch {
		case err == errShort:
			return w.truncated()
		case err != nil && !crcOK:
			return corrupt(archive.ReasonCRCMismatch)
		case err != nil:
			return corrupt(archive.ReasonHeaderParse)
		case !crcOK:
			return corrupt(archive.ReasonCRCMismatch)
		}

		switch h.typ {
		case rar5HeaderMain:
			r := newReader(h.body)
			if flags, err := r.vint(); err == nil && flags&rar5ArchiveSolid != 0 {
				w.solidArchive = true
			}
		case rar5HeaderFile:
			e, err := parseFile5(h)
			if err != nil {
				return corrupt(archive.ReasonHeaderParse)
			}
			if v, done := w.add(e); done {
				return v
			}
		case rar5HeaderEncryption:
			return i.decrypt5(data, pos+h.total, h, password, depth)
		case rar5HeaderEnd:
			return w.verdict()
		}

		next := uint64(pos) + uint64(h.total)
		if !headersOnly {
			next += h.dataSize
		}
		if next > uint64(len(data)) {
			return w.truncated()
		}
		pos = int(next)
	}

	return w.verdict()
}

func parseFile5(h header5) (entry, error) {
	r := newReader(h.body[:len(h.body)-int(h.extraSize)])

	fileFlags, err := r.vint()
	if err != nil {
		return entry{}, err
	}
	if _, err := r.vint(); err != nil { // unpacked size
		return entry{}, err
	}
	if _, err := r.vint(); err != nil { // attributes
		return entry{}, err
	}
	if fileFlags&rar5FileTime != 0 {
		if err := r.skip(4); err != nil {
			return entry{}, err
		}
	}
	if fileFlags&rar5FileCRC != 0 {
		if err := r.skip(4); err != nil {
			return entry{}, err
		}
	}
	compInfo, err := r.vint()
	if err != nil {
		return entry{}, err
	}
	if _, err := r.vint(); err != nil { // host os
		return entry{}, err
	}
	nameLen, err := r.vint()
	if err != nil {
		return entry{}, err
	}
	if nameLen > uint64(r.remaining()) {
		return entry{}, errShort
	}
	name, err := r.bytes(int(nameLen))
	if err != nil {
		return entry{}, err
	}

	encrypted, err := hasEncryptionRecord(h.body[len(h.body)-int(h.extraSize):])
	if err != nil {
		return entry{}, err
	}

	method := int((compInfo >> 7) & 0x7)
	return entry{
		name:      strings.ReplaceAll(string(name), `\`, "/"),
		method:    method,
		stored:    method == 0,
		encrypted: encrypted,
		solid:     compInfo&rar5CompSolid != 0,
		dir:       fileFlags&rar5FileDirectory != 0,
	}, nil
}

func hasEncryptionRecord(extra []byte) (bool, error) {
	r := newReader(extra)
	for r.remaining() > 0 {
		size, err := r.vint()
		if err != nil {
			return false, err
		}
		if size == 0 || size > uint64(r.remaining()) {
			return false, errShort
		}
		start := r.pos
		typ, err := r.vint()
		if err != nil {
			return false, err
		}
		if typ == rar5ExtraEncryption {
			return true, nil
		}
		r.pos = start + int(size)
	}
	return false, nil
}

type encryption5 struct {
	kdfCount int
	salt     []byte
	check    []byte
}

func parseEncryption5(h header5) (encryption5, error) {
	var enc encryption5
	r := newReader(h.body)

	version, err := r.vint()
	if err != nil {
		return enc, err
	}
	if version != 0 {
		return enc, errCorrupt
	}
	flags, err := r.vint()
	if err != nil {
		return enc, err
	}
	count, err := r.u8()
	if err != nil {
		return enc, err
	}
	enc.kdfCount = int(count)
	if enc.salt, err = r.bytes(rar5SaltSize); err != nil {
		return enc, err
	}
	if flags&rar5EncCheckPresent != 0 {
		check, err := r.bytes(rar5CheckSize)
		if err != nil {
			return enc, err
		}
		sum, err := r.bytes(rar5CheckSumSize)
		if err != nil {
			return enc, err
		}
		if !bytes.Equal(rar5CheckSum(check), sum) {
			return enc, errCorrupt
		}
		enc.check = check
	}
	if enc.kdfCount > rar5MaxKDFCount {
		return enc, errCorrupt
	}
	return enc, nil
}

// decrypt5 handles the archive encryption header. Every following header is
// a 16 byte IV and the AES-256-CBC encrypted header padded to 16 bytes.
func (i *Inspector) decrypt5(data []byte, start int, h header5, password string, depth int) archive.Verdict {
	enc, err := parseEncryption5(h)
	if err != nil {
		return corrupt(archive.ReasonHeaderParse)
	}
	if password == "" {
		return decryptFail(archive.ReasonMissingPassword)
	}
	if depth >= maxDecryptDepth {
		return corrupt(archive.ReasonDepthExceeded)
	}

	key, check := rar5Keys(password, enc.salt, enc.kdfCount)
	if enc.check != nil && subtle.ConstantTimeCompare(check[:], enc.check) != 1 {
		i.log.Debug("RAR5 password check failed")
		return decryptFail(archive.ReasonWrongPassword)
	}

	// Without a check value the first header checksum is the password test.
	badBlock := func(blocks int) archive.Verdict {
		if blocks == 0 && enc.check == nil {
			return decryptFail(archive.ReasonWrongPassword)
		}
		return corrupt(archive.ReasonCRCMismatch)
	}

	synthetic := bytes.Clone(sigRAR5)
	blocks := 0
	truncated := false

	for p := start; p < len(data); {
		if len(data)-p < rar5InitVectorLen+16 {
			truncated = true
			break
		}
		iv := data[p : p+rar5InitVectorLen]
		body := data[p+rar5InitVectorLen:]

		first, err := decryptCBC(key, iv, body[:16])
		if err != nil {
			return decryptFail(archive.ReasonDecryptFailed)
		}
		size, n, err := vintAt(first, 4)
		if err != nil || size == 0 || size > rar5MaxHeaderSize {
			return badBlock(blocks)
		}
		if typ, _, err := vintAt(first, 4+n); err != nil || typ < rar5HeaderMain || typ > rar5HeaderEnd {
			return badBlock(blocks)
		}
		total := 4 + n + int(size)
		encLen := align16(total)
		if encLen > len(body) {
			truncated = true
			break
		}

		plain, err := decryptCBC(key, iv, body[:encLen])
		if err != nil {
			return decryptFail(archive.ReasonDecryptFailed)
		}
		hdr, crcOK, err := readHeader5(plain[:total])
		if err != nil || !crcOK {
			return badBlock(blocks)
		}

		blocks++
		synthetic = append(synthetic, plain[:total]...)
		if hdr.typ == rar5HeaderEnd {
			break
		}

		next := uint64(p) + rar5InitVectorLen + uint64(encLen) + hdr.dataSize
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

	i.log.Debug("Decrypted RAR5 headers", "blocks", blocks, "truncated", truncated)

	return decrypted(i.inspect5(synthetic, password, depth+1, true), truncated)
}
