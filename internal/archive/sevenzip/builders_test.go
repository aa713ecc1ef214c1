package sevenzip

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/text/encoding/unicode"
)

// num encodes a 7z NUMBER.
func num(v uint64) []byte {
	for n := 0; n < 8; n++ {
		if v < 1<<(8*n+7-n) {
			out := []byte{byte(uint16(0xff00)>>n) | byte(v>>(8*n))}
			for i := 0; i < n; i++ {
				out = append(out, byte(v>>(8*i)))
			}
			return out
		}
	}
	return binary.LittleEndian.AppendUint64([]byte{0xff}, v)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type coderSpec struct {
	id    []byte
	props []byte
}

var (
	copyCoder  = coderSpec{id: []byte{0x00}}
	lzma2Coder = coderSpec{id: []byte{0x21}, props: []byte{0x10}}
)

type folderSpec struct {
	coders    []coderSpec
	bindPairs [][2]uint64
	unpack    []uint64
	crc       *uint32
	// files holds the sizes of the folder's substreams when it has more than one.
	files []uint64
}

func (f folderSpec) bytes() []byte {
	out := num(uint64(len(f.coders)))
	for _, c := range f.coders {
		flag := byte(len(c.id))
		if len(c.props) > 0 {
			flag |= 0x20
		}
		out = append(out, flag)
		out = append(out, c.id...)
		if len(c.props) > 0 {
			out = concat(out, num(uint64(len(c.props))), c.props)
		}
	}
	for _, bp := range f.bindPairs {
		out = concat(out, num(bp[0]), num(bp[1]))
	}
	return out
}

func streamsInfoBytes(packPos uint64, packSizes []uint64, folders []folderSpec) []byte {
	out := concat([]byte{idPackInfo}, num(packPos), num(uint64(len(packSizes))), []byte{idSize})
	for _, s := range packSizes {
		out = append(out, num(s)...)
	}
	out = append(out, idEnd)

	out = concat(out, []byte{idUnpackInfo, idFolder}, num(uint64(len(folders))), []byte{0})
	for _, f := range folders {
		out = append(out, f.bytes()...)
	}
	out = append(out, idCodersUnpackSize)
	for _, f := range folders {
		for _, u := range f.unpack {
			out = append(out, num(u)...)
		}
	}
	withCRC := false
	for _, f := range folders {
		withCRC = withCRC || f.crc != nil
	}
	if withCRC {
		out = append(out, idCRC, 0)
		defined := make([]byte, (len(folders)+7)/8)
		for i, f := range folders {
			if f.crc != nil {
				defined[i/8] |= 0x80 >> (i % 8)
			}
		}
		out = append(out, defined...)
		for _, f := range folders {
			if f.crc != nil {
				out = binary.LittleEndian.AppendUint32(out, *f.crc)
			}
		}
	}
	out = append(out, idEnd)

	multi := false
	for _, f := range folders {
		multi = multi || len(f.files) > 1
	}
	if multi {
		out = append(out, idSubStreamsInfo, idNumUnpackStream)
		for _, f := range folders {
			out = append(out, num(uint64(max(len(f.files), 1)))...)
		}
		out = append(out, idSize)
		for _, f := range folders {
			for i := 0; i+1 < len(f.files); i++ {
				out = append(out, num(f.files[i])...)
			}
		}
		out = append(out, idEnd)
	}

	return append(out, idEnd)
}

func utf16Names(names []string) []byte {
	out := []byte{0}
	for _, n := range names {
		for _, r := range n {
			out = binary.LittleEndian.AppendUint16(out, uint16(r))
		}
		out = append(out, 0, 0)
	}
	return out
}

func filesInfoBytes(names []string, empty []bool) []byte {
	out := concat([]byte{idFilesInfo}, num(uint64(len(names))))
	if empty != nil {
		bits := make([]byte, (len(empty)+7)/8)
		for i, e := range empty {
			if e {
				bits[i/8] |= 0x80 >> (i % 8)
			}
		}
		out = concat(out, []byte{idEmptyStream}, num(uint64(len(bits))), bits)
	}
	data := utf16Names(names)
	out = concat(out, []byte{idName}, num(uint64(len(data))), data)
	return append(out, idEnd)
}

// plainHeader builds a Header record. mainStreams or files may be nil.
func plainHeader(mainStreams, files []byte) []byte {
	out := []byte{idHeader}
	if mainStreams != nil {
		out = concat(out, []byte{idMainStreamsInfo}, mainStreams)
	}
	out = append(out, files...)
	return append(out, idEnd)
}

// assemble lays out start header, body and next header.
func assemble(body, next []byte) []byte {
	start := make([]byte, 20)
	binary.LittleEndian.PutUint64(start[0:], uint64(len(body)))
	binary.LittleEndian.PutUint64(start[8:], uint64(len(next)))
	binary.LittleEndian.PutUint32(start[16:], crc32.ChecksumIEEE(next))

	out := concat(signature, []byte{0, 4})
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(start))
	return concat(out, start, body, next)
}

const memberSize = 16

// storedArchive builds an archive with one folder using coder that holds a
// memberSize stream per name.
func storedArchive(coder coderSpec, names ...string) []byte {
	body := bytes.Repeat([]byte{0xaa}, memberSize*len(names))
	files := make([]uint64, len(names))
	for i := range files {
		files[i] = memberSize
	}
	streams := streamsInfoBytes(0, []uint64{uint64(len(body))}, []folderSpec{{
		coders: []coderSpec{coder},
		unpack: []uint64{uint64(len(body))},
		files:  files,
	}})
	return assemble(body, plainHeader(streams, filesInfoBytes(names, nil)))
}

func lzmaCompress(t *testing.T, plain []byte) (props, packed []byte) {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.WriterConfig{DictCap: 1 << 16, Size: int64(len(plain))}.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out := buf.Bytes()
	return out[:5], out[lzma.HeaderLen:]
}

func lzma2Compress(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.Writer2Config{DictCap: 1 << 20}.NewWriter2(&buf)
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

const testAESCycles = 4

func aesCoder(salt, iv []byte) coderSpec {
	props := []byte{testAESCycles | 0xc0, byte(len(salt)-1)<<4 | byte(len(iv)-1)}
	props = concat(props, salt, iv)
	return coderSpec{id: []byte{0x06, 0xf1, 0x07, 0x01}, props: props}
}

// deriveTestKey is the 7z AES-256 key schedule: SHA-256 over 2^cycles
// repetitions of salt, UTF-16LE password and a little-endian round counter.
func deriveTestKey(t *testing.T, password string, salt []byte, cycles int) []byte {
	t.Helper()
	pw, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(password))
	require.NoError(t, err)

	h := sha256.New()
	for i := uint64(0); i < 1<<cycles; i++ {
		h.Write(salt)
		h.Write(pw)
		h.Write(binary.LittleEndian.AppendUint64(nil, i))
	}
	return h.Sum(nil)
}

func aesEncrypt(t *testing.T, password string, salt, iv, plain []byte) []byte {
	t.Helper()
	key := deriveTestKey(t, password, salt, testAESCycles)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	padded := make([]byte, (len(plain)+aes.BlockSize-1)/aes.BlockSize*aes.BlockSize)
	copy(padded, plain)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

// encodedArchive wraps a plain header as an encoded header whose packed
// stream follows the member data.
func encodedArchive(body, packed []byte, f folderSpec) []byte {
	record := concat([]byte{idEncodedHeader},
		streamsInfoBytes(uint64(len(body)), []uint64{uint64(len(packed))}, []folderSpec{f}))
	return assemble(concat(body, packed), record)
}

var (
	testSalt = []byte("saltsalt")
	testIV   = []byte("0123456789abcdef")
)

func crcOf(b []byte) *uint32 {
	c := crc32.ChecksumIEEE(b)
	return &c
}

func moviePlainHeader(bodyLen int) []byte {
	streams := streamsInfoBytes(0, []uint64{uint64(bodyLen)}, []folderSpec{{
		coders: []coderSpec{copyCoder},
		unpack: []uint64{uint64(bodyLen)},
	}})
	return plainHeader(streams, filesInfoBytes([]string{"Movie.2024.1080p.mkv"}, nil))
}

func aesEncodedArchive(t *testing.T, password string) []byte {
	t.Helper()
	body := bytes.Repeat([]byte{0x55}, 128)
	plain := moviePlainHeader(len(body))
	packed := aesEncrypt(t, password, testSalt, testIV, plain)
	return encodedArchive(body, packed, folderSpec{
		coders: []coderSpec{aesCoder(testSalt, testIV)},
		unpack: []uint64{uint64(len(plain))},
		crc:    crcOf(plain),
	})
}

// hostileSubstreams builds a plain header whose folders each announce
// perFolder substreams, padded so every single count looks plausible.
func hostileSubstreams(folders, perFolder, padding int) []byte {
	specs := make([]folderSpec, folders)
	unpack := make([]uint64, folders)
	for i := range specs {
		specs[i] = folderSpec{coders: []coderSpec{copyCoder}, unpack: []uint64{1}}
		unpack[i] = 1
	}
	streams := streamsInfoBytes(0, unpack, specs)
	streams = streams[:len(streams)-1]
	streams = append(streams, idSubStreamsInfo, idNumUnpackStream)
	for range folders {
		streams = append(streams, num(uint64(perFolder))...)
	}
	streams = append(streams, idCRC, 1)
	streams = append(streams, make([]byte, padding)...)
	return assemble(nil, concat([]byte{idHeader, idMainStreamsInfo}, streams))
}
