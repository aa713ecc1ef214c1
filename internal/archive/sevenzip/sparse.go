package sevenzip

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"
)

var (
	errReadOnly  = errors.New("7z: sparse archive is read-only")
	errSparseGap = errors.New("7z: read outside fetched bytes")
)

// region is a run of known bytes inside the sparse archive.
type region struct {
	off  int64
	data []byte
}

func (r region) end() int64 { return r.off + int64(len(r.data)) }

// sparseFs exposes one archive of a known size of which only the first and
// last bytes were fetched. Reads that fall between the two fail with
// errSparseGap.
type sparseFs struct {
	name    string
	size    int64
	regions []region
}

var _ afero.Fs = (*sparseFs)(nil)

func newSparseFs(name string, size int64, head, tail []byte) *sparseFs {
	if int64(len(head)) > size {
		head = head[:size]
	}
	if int64(len(tail)) > size {
		tail = tail[int64(len(tail))-size:]
	}
	return &sparseFs{
		name: name,
		size: size,
		regions: []region{
			{off: 0, data: head},
			{off: size - int64(len(tail)), data: tail},
		},
	}
}

func (s *sparseFs) Open(name string) (afero.File, error) {
	if name != s.name {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &sparseFile{fs: s}, nil
}

func (s *sparseFs) OpenFile(name string, flag int, _ os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}
	return s.Open(name)
}

func (s *sparseFs) Stat(name string) (os.FileInfo, error) {
	if name != s.name {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return sparseInfo{name: s.name, size: s.size}, nil
}

func (s *sparseFs) Name() string { return "sparse" }

func (s *sparseFs) Create(string) (afero.File, error)          { return nil, errReadOnly }
func (s *sparseFs) Mkdir(string, os.FileMode) error            { return errReadOnly }
func (s *sparseFs) MkdirAll(string, os.FileMode) error         { return errReadOnly }
func (s *sparseFs) Remove(string) error                        { return errReadOnly }
func (s *sparseFs) RemoveAll(string) error                     { return errReadOnly }
func (s *sparseFs) Rename(string, string) error                { return errReadOnly }
func (s *sparseFs) Chmod(string, os.FileMode) error            { return errReadOnly }
func (s *sparseFs) Chown(string, int, int) error               { return errReadOnly }
func (s *sparseFs) Chtimes(string, time.Time, time.Time) error { return errReadOnly }

// readAt copies from the fetched regions into p. A read that reaches bytes
// nobody fetched stops there with errSparseGap, one that reaches the end of
// the archive with io.EOF.
func (s *sparseFs) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errSparseGap
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= s.size {
			return n, io.EOF
		}
		r, ok := s.regionAt(pos)
		if !ok {
			return n, errSparseGap
		}
		n += copy(p[n:], r.data[pos-r.off:])
	}
	return n, nil
}

func (s *sparseFs) regionAt(pos int64) (region, bool) {
	for _, r := range s.regions {
		if pos >= r.off && pos < r.end() {
			return r, true
		}
	}
	return region{}, false
}

type sparseFile struct {
	fs  *sparseFs
	pos int64
}

var _ afero.File = (*sparseFile)(nil)

func (f *sparseFile) ReadAt(p []byte, off int64) (int, error) {
	return f.fs.readAt(p, off)
}

func (f *sparseFile) Read(p []byte) (int, error) {
	n, err := f.fs.readAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *sparseFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.pos
	case io.SeekEnd:
		offset += f.fs.size
	default:
		return 0, errors.New("7z: invalid whence")
	}
	if offset < 0 {
		return 0, errors.New("7z: negative position")
	}
	f.pos = offset
	return offset, nil
}

func (f *sparseFile) Stat() (os.FileInfo, error) {
	return sparseInfo{name: f.fs.name, size: f.fs.size}, nil
}

func (f *sparseFile) Name() string { return f.fs.name }
func (f *sparseFile) Close() error { return nil }

func (f *sparseFile) Write([]byte) (int, error)          { return 0, errReadOnly }
func (f *sparseFile) WriteAt([]byte, int64) (int, error) { return 0, errReadOnly }
func (f *sparseFile) WriteString(string) (int, error)    { return 0, errReadOnly }
func (f *sparseFile) Truncate(int64) error               { return errReadOnly }
func (f *sparseFile) Sync() error                        { return nil }

func (f *sparseFile) Readdir(int) ([]os.FileInfo, error) { return nil, errReadOnly }
func (f *sparseFile) Readdirnames(int) ([]string, error) { return nil, errReadOnly }

type sparseInfo struct {
	name string
	size int64
}

func (i sparseInfo) Name() string       { return i.name }
func (i sparseInfo) Size() int64        { return i.size }
func (i sparseInfo) Mode() fs.FileMode  { return 0o444 }
func (i sparseInfo) ModTime() time.Time { return time.Time{} }
func (i sparseInfo) IsDir() bool        { return false }
func (i sparseInfo) Sys() any           { return nil }
