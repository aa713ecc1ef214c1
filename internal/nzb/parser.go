// Package nzb turns NZB manifests into the file and segment lists used by the inspector.
package nzb

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/javi11/nzbinspect/internal/errors"
	"github.com/javi11/nzbparser"
	"github.com/spf13/afero"
)

// Segment is one article of a posted file.
type Segment struct {
	Number int    `json:"number"`
	Bytes  int    `json:"bytes"`
	ID     string `json:"id"`
}

// FileEntry is one member file of a candidate, one row of the manifest.
// Filename and Extension are empty when the subject carries no recognisable name.
type FileEntry struct {
	Subject   string    `json:"subject"`
	Filename  string    `json:"filename,omitempty"`
	Extension string    `json:"extension,omitempty"`
	Groups    []string  `json:"groups,omitempty"`
	Segments  []Segment `json:"segments"`
}

// FirstSegment returns the lowest numbered segment.
func (f FileEntry) FirstSegment() (Segment, bool) {
	if len(f.Segments) == 0 {
		return Segment{}, false
	}
	return f.Segments[0], true
}

// LastSegment returns the highest numbered segment.
func (f FileEntry) LastSegment() (Segment, bool) {
	if len(f.Segments) == 0 {
		return Segment{}, false
	}
	return f.Segments[len(f.Segments)-1], true
}

// Size is the sum of the encoded segment sizes.
func (f FileEntry) Size() int64 {
	var total int64
	for _, s := range f.Segments {
		total += int64(s.Bytes)
	}
	return total
}

// Manifest is a parsed NZB.
type Manifest struct {
	Files    []FileEntry       `json:"files"`
	Password string            `json:"-"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Parse reads an NZB document.
func Parse(r io.Reader) (*Manifest, error) {
	n, err := nzbparser.Parse(r)
	if err != nil {
		return nil, errors.NewNonRetryableError("failed to parse NZB XML", err)
	}

	if len(n.Files) == 0 {
		return nil, errors.NewNonRetryableError("NZB file contains no files", nil)
	}

	m := &Manifest{
		Files: make([]FileEntry, 0, len(n.Files)),
		Meta:  map[string]string{},
	}

	for k, v := range n.Meta {
		if k == "password" {
			m.Password = v
			continue
		}
		m.Meta[k] = v
	}

	for _, f := range n.Files {
		m.Files = append(m.Files, newFileEntry(f))
	}

	slog.Default().With("component", "nzb-parser").Debug("Parsed NZB",
		"files", len(m.Files),
		"has_password", m.Password != "")

	return m, nil
}

// LoadFile parses the NZB at path on fs.
func LoadFile(fs afero.Fs, path string) (*Manifest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NZB %s: %w", path, err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse NZB %s: %w", path, err)
	}

	return m, nil
}

func newFileEntry(f nzbparser.NzbFile) FileEntry {
	segs := make([]Segment, 0, len(f.Segments))
	for _, s := range f.Segments {
		segs = append(segs, Segment{
			Number: s.Number,
			Bytes:  s.Bytes,
			ID:     strings.Trim(s.ID, "<>"),
		})
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Number < segs[j].Number })

	name := ExtractFilename(f.Subject)
	if name == "" {
		name = f.Filename
	}

	return FileEntry{
		Subject:   f.Subject,
		Filename:  name,
		Extension: Extension(name),
		Groups:    f.Groups,
		Segments:  segs,
	}
}

// Extension returns the lower-cased final extension of name without the dot.
func Extension(name string) string {
	ext := path.Ext(name)
	if len(ext) < 2 {
		return ""
	}
	return strings.ToLower(ext[1:])
}
