// Package rar classifies RAR4 and RAR5 archives from their leading bytes.
package rar

import (
	"bytes"
	"log/slog"

	"github.com/javi11/nzbinspect/internal/archive"
)

var (
	sigRAR4 = []byte("Rar!\x1a\x07\x00")
	sigRAR5 = []byte("Rar!\x1a\x07\x01\x00")
)

// maxDecryptDepth bounds how many times decrypted headers may be re-inspected.
const maxDecryptDepth = 2

// IsRAR4 reports whether data starts with the RAR 1.5-4.x signature.
func IsRAR4(data []byte) bool {
	return bytes.HasPrefix(data, sigRAR4)
}

// IsRAR5 reports whether data starts with the RAR 5.0 signature.
func IsRAR5(data []byte) bool {
	return bytes.HasPrefix(data, sigRAR5)
}

// Inspector classifies RAR archives. It is safe for concurrent use.
type Inspector struct {
	log *slog.Logger
}

// NewInspector creates a RAR inspector.
func NewInspector() *Inspector {
	return &Inspector{
		log: slog.Default().With("component", "rar-inspector"),
	}
}

// Inspect classifies data, which must begin at the archive signature.
// password may be empty. It never panics on malformed or truncated input.
func (i *Inspector) Inspect(data []byte, password string) archive.Verdict {
	switch {
	case IsRAR5(data):
		return i.inspect5(data, password, 0, false)
	case IsRAR4(data):
		return i.inspect4(data, password, 0, false)
	case len(data) < len(sigRAR5) && (bytes.HasPrefix(sigRAR5, data) || bytes.HasPrefix(sigRAR4, data)):
		return archive.WithReason(archive.StatusRarInsufficientData, archive.ReasonTruncated)
	default:
		return archive.WithReason(archive.StatusRarHeaderNotFound, archive.ReasonSignatureMismatch)
	}
}

// entry is one file header, normalised across RAR versions.
type entry struct {
	name      string
	method    int
	stored    bool
	encrypted bool
	solid     bool
	dir       bool
}

// walk accumulates the file headers of one pass over a header stream.
type walk struct {
	tally        archive.Tally
	encrypted    bool
	solidArchive bool
}

// add applies the per-entry policy. It returns a verdict and true when the
// entry alone decides the outcome.
func (w *walk) add(e entry) (archive.Verdict, bool) {
	e.solid = e.solid || w.solidArchive

	if e.dir {
		w.tally.Observe(e.name)
		return archive.Verdict{}, false
	}

	var status archive.Status
	switch {
	case archive.IsISO(e.name):
		status = archive.StatusRarISOImage
	case archive.IsDiscStructure(e.name):
		status = archive.StatusRarDiscStructure
	case e.solid && e.encrypted:
		status = archive.StatusRarSolidEncrypted
	case !e.stored:
		status = archive.StatusRarCompressed
	}

	if status != "" {
		w.tally.Observe(e.name)
		d := &archive.Details{
			Name:          e.name,
			SampleEntries: w.tally.Samples(),
			Solid:         e.solid,
			Encrypted:     e.encrypted,
		}
		if status == archive.StatusRarCompressed {
			d.Method = archive.Method(e.method)
		}
		return archive.NewVerdict(status, d), true
	}

	if e.encrypted {
		w.encrypted = true
	}
	w.tally.AddStored(e.name)
	return archive.Verdict{}, false
}

func (w *walk) verdict() archive.Verdict {
	v := w.tally.RarVerdict()
	if v.Details != nil {
		v.Details.Encrypted = w.encrypted
	}
	return v
}

// truncated ends a walk that ran out of bytes: entries seen so far are
// classified, otherwise there is not enough data to say anything.
func (w *walk) truncated() archive.Verdict {
	if w.tally.Entries > 0 {
		return w.verdict()
	}
	return archive.WithReason(archive.StatusRarInsufficientData, archive.ReasonTruncated)
}

func corrupt(reason string) archive.Verdict {
	return archive.WithReason(archive.StatusRarCorruptHeader, reason)
}

func decryptFail(reason string) archive.Verdict {
	return archive.WithReason(archive.StatusRarEncryptedHeadersDecryptFail, reason)
}

// decrypted marks a verdict obtained from decrypted headers. A truncated
// encrypted stream that yielded no file header is reported as insufficient data.
func decrypted(v archive.Verdict, truncated bool) archive.Verdict {
	if v.Status == archive.StatusRarHeaderNotFound && truncated {
		return archive.WithReason(archive.StatusRarInsufficientData, archive.ReasonTruncated)
	}
	if v.Details == nil {
		v.Details = &archive.Details{}
	}
	v.Details.HeadersDecrypted = true
	return v
}
