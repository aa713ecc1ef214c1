package rar

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
)

func le16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func pad16(b []byte) []byte {
	out := make([]byte, align16(len(b)))
	copy(out, b)
	return out
}

func encryptCBC(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out
}

// RAR4

func rar4Block(typ byte, flags uint16, fields []byte) []byte {
	size := uint16(7 + len(fields))
	body := concat([]byte{typ}, le16(flags), le16(size), fields)
	return concat(le16(uint16(crc32.ChecksumIEEE(body))), body)
}

func rar4Main(flags uint16) []byte {
	return rar4Block(rar4BlockMain, flags, make([]byte, 6))
}

func rar4End() []byte {
	return rar4Block(rar4BlockEnd, 0x4000, nil)
}

type file4 struct {
	name     string
	method   byte
	flags    uint16
	packSize uint32
}

func (f file4) header() []byte {
	if f.method == 0 {
		f.method = rar4MethodStore
	}
	fields := concat(
		le32(f.packSize), le32(f.packSize), []byte{2}, le32(0), le32(0),
		[]byte{29, f.method}, le16(uint16(len(f.name))), le32(0x20), []byte(f.name),
	)
	return rar4Block(rar4BlockFile, f.flags|rar4LongBlock, fields)
}

// block returns the header followed by its packed data.
func (f file4) block() []byte {
	return concat(f.header(), make([]byte, f.packSize))
}

func rar4Archive(blocks ...[]byte) []byte {
	return concat(sigRAR4, rar4Main(0), concat(blocks...), rar4End())
}

// rar4EncryptedArchive encrypts every block after the main header with password.
func rar4EncryptedArchive(t *testing.T, password string, files ...file4) []byte {
	t.Helper()
	return rar4EncryptedArchiveFlags(t, 0, password, files...)
}

// rar4EncryptedArchiveFlags is rar4EncryptedArchive with extra main header flags.
func rar4EncryptedArchiveFlags(t *testing.T, mainFlags uint16, password string, files ...file4) []byte {
	t.Helper()
	salt := []byte("saltsalt")
	k, err := deriveRAR3Key(password, salt)
	require.NoError(t, err)

	out := concat(sigRAR4, rar4Main(mainFlags|rar4MainPassword))
	for _, f := range files {
		out = concat(out, salt, encryptCBC(t, k.key[:], k.iv[:], pad16(f.header())), make([]byte, f.packSize))
	}
	return concat(out, salt, encryptCBC(t, k.key[:], k.iv[:], pad16(rar4End())))
}

// RAR5

func vint(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func rar5Header(typ, flags uint64, fields, extra []byte, dataSize uint64) []byte {
	if len(extra) > 0 {
		flags |= rar5FlagExtra
	}
	if dataSize > 0 {
		flags |= rar5FlagData
	}
	inner := concat(vint(typ), vint(flags))
	if len(extra) > 0 {
		inner = concat(inner, vint(uint64(len(extra))))
	}
	if dataSize > 0 {
		inner = concat(inner, vint(dataSize))
	}
	inner = concat(inner, fields, extra)
	sized := concat(vint(uint64(len(inner))), inner)
	return concat(le32(crc32.ChecksumIEEE(sized)), sized)
}

func rar5Main(flags uint64) []byte {
	return rar5Header(rar5HeaderMain, 0, vint(flags), nil, 0)
}

func rar5End() []byte {
	return rar5Header(rar5HeaderEnd, 0, vint(0), nil, 0)
}

type file5 struct {
	name      string
	method    int
	solid     bool
	encrypted bool
	dir       bool
	dataSize  uint64
}

func (f file5) header() []byte {
	var fileFlags uint64
	if f.dir {
		fileFlags |= rar5FileDirectory
	}
	ci := uint64(f.method) << 7
	if f.solid {
		ci |= rar5CompSolid
	}
	fields := concat(vint(fileFlags), vint(f.dataSize), vint(0x20), vint(ci), vint(1),
		vint(uint64(len(f.name))), []byte(f.name))

	var extra []byte
	if f.encrypted {
		record := concat(vint(rar5ExtraEncryption), vint(0), vint(0), make([]byte, 1+16+16))
		extra = concat(vint(uint64(len(record))), record)
	}
	return rar5Header(rar5HeaderFile, 0, fields, extra, f.dataSize)
}

func (f file5) block() []byte {
	return concat(f.header(), make([]byte, f.dataSize))
}

func rar5Archive(blocks ...[]byte) []byte {
	return concat(sigRAR5, rar5Main(0), concat(blocks...), rar5End())
}

const testKDFCount = 4

// rar5EncryptedArchive builds a header encrypted archive, optionally storing a password check value.
func rar5EncryptedArchive(t *testing.T, password string, withCheck bool, files ...file5) []byte {
	t.Helper()
	salt := []byte("0123456789abcdef")
	key, check := rar5Keys(password, salt, testKDFCount)

	var flags uint64
	fields := concat(vint(0))
	if withCheck {
		flags = rar5EncCheckPresent
	}
	fields = concat(fields, vint(flags), []byte{testKDFCount}, salt)
	if withCheck {
		fields = concat(fields, check[:], rar5CheckSum(check[:]))
	}

	out := concat(sigRAR5, rar5Header(rar5HeaderEncryption, 0, fields, nil, 0))
	iv := []byte("fedcba9876543210")
	seal := func(h []byte) []byte {
		return concat(iv, encryptCBC(t, key, iv, pad16(h)))
	}

	out = concat(out, seal(rar5Main(0)))
	for _, f := range files {
		out = concat(out, seal(f.header()), make([]byte, f.dataSize))
	}
	return concat(out, seal(rar5End()))
}
