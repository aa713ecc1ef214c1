// Package sevenzip classifies 7-Zip archives from their start header and
// trailing metadata block. Entries are listed by github.com/javi11/sevenzip
// over a sparse file holding only the fetched bytes.
package sevenzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"strings"

	sz "github.com/javi11/sevenzip"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/javi11/nzbinspect/internal/archive"
	sharedErrors "github.com/javi11/nzbinspect/internal/errors"
	"github.com/javi11/nzbinspect/internal/nzb"
)

var signature = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}

const (
	startHeaderSize = 32
	maxArchiveSize  = 1 << 50
)

var (
	errPasswordRequired = errors.New("7z: password required")
	errTruncated        = errors.New("7z: packed stream outside fetched bytes")
)

// headerCoders are the coders archivers use for encoded headers.
var headerCoders = map[string]bool{
	methodCopy:  true,
	methodLZMA:  true,
	methodLZMA2: true,
	methodAES:   true,
	"03030103":  true,
}

// IsSevenZip reports whether data starts with the 7z signature.
func IsSevenZip(data []byte) bool {
	return bytes.HasPrefix(data, signature)
}

// SegmentFetcher returns the decoded payload of one article.
type SegmentFetcher interface {
	FetchSegment(ctx context.Context, messageID string) ([]byte, error)
}

// Inspector classifies 7z archives. It is safe for concurrent use.
type Inspector struct {
	log *slog.Logger
}

// NewInspector creates a 7z inspector.
func NewInspector() *Inspector {
	return &Inspector{
		log: slog.Default().With("component", "sevenzip-inspector"),
	}
}

// InspectShallow checks the signature only.
func (i *Inspector) InspectShallow(data []byte) archive.Verdict {
	if len(data) < len(signature) {
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonTruncated)
	}
	if !IsSevenZip(data) {
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonSignatureMismatch)
	}
	return archive.NewVerdict(archive.StatusSevenZipSignatureOK, nil)
}

// InspectDeep fetches the first segment of the first volume and the last
// segment of the last volume and classifies the archive from its metadata.
// volumes must be sorted by volume number. Only pool and context failures are
// returned as errors; every other failure is folded into the verdict.
func (i *Inspector) InspectDeep(ctx context.Context, volumes []nzb.FileEntry, fetcher SegmentFetcher, password string) (archive.Verdict, error) {
	if len(volumes) == 0 {
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonSegmentMissing), nil
	}
	first, ok := volumes[0].FirstSegment()
	if !ok {
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonSegmentMissing), nil
	}
	last, ok := volumes[len(volumes)-1].LastSegment()
	if !ok {
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonSegmentMissing), nil
	}

	var head, tail []byte
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		head, err = fetcher.FetchSegment(ctx, first.ID)
		return err
	})
	if last.ID != first.ID {
		p.Go(func(ctx context.Context) error {
			var err error
			tail, err = fetcher.FetchSegment(ctx, last.ID)
			return err
		})
	}
	if err := p.Wait(); err != nil {
		if sharedErrors.IsResource(err) || ctx.Err() != nil {
			return archive.Verdict{}, err
		}
		i.log.DebugContext(ctx, "7z segment fetch failed", "file", volumes[0].Filename, "error", err)
		return fetchFailure(err), nil
	}
	if last.ID == first.ID {
		tail = head
	}

	v := i.InspectBuffers(head, tail, password)
	if v.Details == nil {
		v.Details = &archive.Details{}
	}
	if v.Details.Name == "" {
		v.Details.Name = volumes[0].Filename
	}
	return v, nil
}

func fetchFailure(err error) archive.Verdict {
	switch {
	case sharedErrors.IsNotFound(err):
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonSegmentMissing)
	case sharedErrors.IsDecode(err):
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonDecodeFailed)
	default:
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonFetchFailed)
	}
}

// InspectBuffers classifies an archive from its decoded first bytes (head)
// and last bytes (tail). head and tail may be the same slice.
func (i *Inspector) InspectBuffers(head, tail []byte, password string) archive.Verdict {
	if v := i.InspectShallow(head); v.Status != archive.StatusSevenZipSignatureOK {
		return v
	}
	if len(head) < startHeaderSize {
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonTruncated)
	}
	if crc32.ChecksumIEEE(head[12:startHeaderSize]) != binary.LittleEndian.Uint32(head[8:]) {
		return archive.WithReason(archive.StatusSevenZipSignatureOK, archive.ReasonCRCMismatch)
	}

	nextOffset := binary.LittleEndian.Uint64(head[12:])
	nextSize := binary.LittleEndian.Uint64(head[20:])
	nextCRC := binary.LittleEndian.Uint32(head[28:])
	switch {
	case nextSize == 0:
		return archive.WithReason(archive.StatusSevenZipSignatureOK, archive.ReasonNoFilenames)
	case nextSize > maxHeaderSize, nextOffset > maxArchiveSize:
		return archive.WithReason(archive.StatusSevenZipSignatureOK, archive.ReasonHeaderParse)
	case nextSize > uint64(len(tail)):
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonTruncated)
	}

	raw := tail[uint64(len(tail))-nextSize:]
	if crc32.ChecksumIEEE(raw) != nextCRC {
		return archive.WithReason(archive.StatusSevenZipSignatureOK, archive.ReasonCRCMismatch)
	}

	loc := locator{head: head, tail: tail, nextOffset: nextOffset, nextSize: nextSize}
	meta, err := precheck(raw, loc, password)
	if err != nil {
		i.log.Debug("7z metadata rejected", "error", err)
		return failureVerdict(err)
	}
	if meta.plain && meta.files == 0 {
		return archive.WithReason(archive.StatusSevenZipSignatureOK, archive.ReasonNoFilenames)
	}

	size := int64(startHeaderSize + nextOffset + nextSize)
	files, err := listFiles(newSparseFs(archiveName, size, head, tail), password)
	if err != nil {
		i.log.Debug("7z archive unreadable", "error", err)
		return meta.openFailure()
	}
	return classify(files, meta)
}

// archiveName is the single file served by the sparse filesystem. It avoids
// the .001 suffix so the reader does not look for further volumes.
const archiveName = "archive.7z"

// listFiles opens the archive through fsys and lists its entries. Hostile
// metadata may make the reader panic, which is reported as errCorrupt.
func listFiles(fsys afero.Fs, password string) (files []sz.FileInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			files, err = nil, fmt.Errorf("%w: reader panic: %v", errCorrupt, r)
		}
	}()

	var rc *sz.ReadCloser
	if password != "" {
		rc, err = sz.OpenReaderWithPassword(archiveName, password, fsys)
	} else {
		rc, err = sz.OpenReader(archiveName, fsys)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer rc.Close()

	files, err = rc.ListFilesWithOffsets()
	if err != nil {
		return nil, fmt.Errorf("failed to list 7z archive: %w", err)
	}
	return files, nil
}

// locator places packed streams of an encoded header inside the fetched bytes.
type locator struct {
	head       []byte
	tail       []byte
	nextOffset uint64
	nextSize   uint64
}

// covers reports whether size bytes at packPos, relative to the end of the
// start header, were fetched.
func (l locator) covers(packPos, size uint64) error {
	if packPos > l.nextOffset || size > l.nextOffset-packPos {
		return errCorrupt
	}

	// The next header sits at the very end of the tail buffer.
	back := l.nextSize + (l.nextOffset - packPos)
	if back <= uint64(len(l.tail)) {
		return nil
	}
	if startHeaderSize+packPos+size <= uint64(len(l.head)) {
		return nil
	}
	return errTruncated
}

// metadata is what the bounded pre-pass learns about the next header.
type metadata struct {
	plain   bool
	files   int
	main    *streamsInfo
	encoded *folder
}

// precheck walks the next header before the archive reader sees it. Plain
// headers are checked for sane counts. Encoded headers are checked for a
// fetched packed stream, a bounded unpack size and a usable password.
func precheck(raw []byte, loc locator, password string) (*metadata, error) {
	r := &reader{buf: raw}
	id, err := r.number()
	if err != nil {
		return nil, err
	}

	switch id {
	case idHeader:
		h, err := readHeader(r)
		if err != nil {
			return nil, err
		}
		return &metadata{plain: true, files: h.files, main: h.main}, nil
	case idEncodedHeader:
		si, err := readStreamsInfo(r)
		if err != nil {
			return nil, err
		}
		if len(si.folders) == 0 || len(si.packSizes) == 0 {
			return nil, errCorrupt
		}
		if err := loc.covers(si.packPos, si.packSizes[0]); err != nil {
			return nil, err
		}
		f := si.folders[0]
		for _, size := range f.unpackSizes {
			if size > maxHeaderSize {
				return nil, fmt.Errorf("%w: unpack size %d", errCorrupt, size)
			}
		}
		if usesAES(f) && password == "" {
			return nil, errPasswordRequired
		}
		return &metadata{encoded: &f}, nil
	default:
		return nil, errCorrupt
	}
}

// openFailure explains why the archive reader rejected metadata that passed
// the pre-pass.
func (m *metadata) openFailure() archive.Verdict {
	if m.encoded != nil {
		if usesAES(*m.encoded) {
			return archive.WithReason(archive.StatusSevenZipEncrypted, archive.ReasonWrongPassword)
		}
		for _, c := range m.encoded.coders {
			if !headerCoders[c.method()] {
				v := archive.WithReason(archive.StatusSevenZipUnsupported, archive.ReasonUnsupportedCoder)
				v.Details.Coder = coderName(c.method())
				return v
			}
		}
	}
	return archive.WithReason(archive.StatusSevenZipSignatureOK, archive.ReasonHeaderParse)
}

// compressedCoder names the first non-copy coder of the main streams, when
// the header was readable without decoding.
func (m *metadata) compressedCoder() string {
	if m.main == nil {
		return ""
	}
	for _, f := range m.main.folders {
		for _, c := range f.coders {
			if method := c.method(); method != methodCopy && method != methodAES {
				return coderName(method)
			}
		}
	}
	return ""
}

func usesAES(f folder) bool {
	for _, c := range f.coders {
		if c.method() == methodAES {
			return true
		}
	}
	return false
}

func failureVerdict(err error) archive.Verdict {
	switch {
	case errors.Is(err, errPasswordRequired):
		return archive.WithReason(archive.StatusSevenZipEncrypted, archive.ReasonPasswordRequired)
	case errors.Is(err, errTruncated):
		return archive.WithReason(archive.StatusSevenZipInsufficientData, archive.ReasonTruncated)
	default:
		return archive.WithReason(archive.StatusSevenZipSignatureOK, archive.ReasonHeaderParse)
	}
}

func classify(files []sz.FileInfo, meta *metadata) archive.Verdict {
	tally := archive.Tally{ExcludeSamples: true}
	var disc, iso, encrypted, compressed bool
	for _, fi := range files {
		name := strings.ReplaceAll(fi.Name, `\`, "/")
		if strings.HasSuffix(name, "/") || fi.Size == 0 {
			tally.Observe(strings.TrimSuffix(name, "/"))
		} else {
			tally.AddStored(name)
			encrypted = encrypted || fi.Encrypted
			compressed = compressed || fi.Compressed
		}
		disc = disc || archive.IsDiscStructure(name)
		iso = iso || archive.IsISO(name)
	}

	details := tally.Details()
	verdict := func(status archive.Status, reason string) archive.Verdict {
		details.Reason = reason
		return archive.Verdict{Status: status, Details: details}
	}

	switch {
	case encrypted:
		details.Encrypted = true
		return verdict(archive.StatusSevenZipEncrypted, archive.ReasonEncryptedContent)
	case compressed:
		details.Coder = meta.compressedCoder()
		return verdict(archive.StatusSevenZipUnsupported, archive.ReasonCompressedCoder)
	case tally.Nested > 0:
		return verdict(archive.StatusSevenZipNestedArchive, "")
	case disc:
		return verdict(archive.StatusSevenZipUnsupported, archive.ReasonDiscStructure)
	case iso:
		return verdict(archive.StatusSevenZipUnsupported, archive.ReasonISOImage)
	case tally.Playable > 0:
		return verdict(archive.StatusSevenZipStored, "")
	case tally.Entries > 0:
		return verdict(archive.StatusSevenZipSignatureOK, archive.ReasonNoPlayableVideo)
	default:
		return verdict(archive.StatusSevenZipSignatureOK, archive.ReasonNoFilenames)
	}
}
