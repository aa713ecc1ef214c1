// Package archive holds the inspection verdict vocabulary and the helpers
// shared by the RAR, 7z and ZIP inspectors.
package archive

import "strings"

// Status is the closed vocabulary of inspection outcomes.
type Status string

const (
	StatusRarStored                      Status = "rar-stored"
	StatusRarNoVideo                     Status = "rar-no-video"
	StatusRarNestedArchive               Status = "rar-nested-archive"
	StatusRarCompressed                  Status = "rar-compressed"
	StatusRarEncrypted                   Status = "rar-encrypted"
	StatusRarSolidEncrypted              Status = "rar-solid-encrypted"
	StatusRarEncryptedHeadersDecryptFail Status = "rar-encrypted-headers-decrypt-fail"
	StatusRarISOImage                    Status = "rar-iso-image"
	StatusRarDiscStructure               Status = "rar-disc-structure"
	StatusRarHeaderNotFound              Status = "rar-header-not-found"
	StatusRarInsufficientData            Status = "rar-insufficient-data"
	StatusRarCorruptHeader               Status = "rar-corrupt-header"

	StatusSevenZipStored           Status = "sevenzip-stored"
	StatusSevenZipSignatureOK      Status = "sevenzip-signature-ok"
	StatusSevenZipUnsupported      Status = "sevenzip-unsupported"
	StatusSevenZipNestedArchive    Status = "sevenzip-nested-archive"
	StatusSevenZipEncrypted        Status = "sevenzip-encrypted"
	StatusSevenZipInsufficientData Status = "sevenzip-insufficient-data"
)

var knownStatuses = map[Status]struct{}{
	StatusRarStored: {}, StatusRarNoVideo: {}, StatusRarNestedArchive: {},
	StatusRarCompressed: {}, StatusRarEncrypted: {}, StatusRarSolidEncrypted: {},
	StatusRarEncryptedHeadersDecryptFail: {}, StatusRarISOImage: {},
	StatusRarDiscStructure: {}, StatusRarHeaderNotFound: {},
	StatusRarInsufficientData: {}, StatusRarCorruptHeader: {},
	StatusSevenZipStored: {}, StatusSevenZipSignatureOK: {},
	StatusSevenZipUnsupported: {}, StatusSevenZipNestedArchive: {},
	StatusSevenZipEncrypted: {}, StatusSevenZipInsufficientData: {},
}

// Known reports whether s belongs to the vocabulary.
func (s Status) Known() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Playable reports whether s is a positive result. Unknown tokens are never playable.
func (s Status) Playable() bool {
	return s == StatusRarStored || s == StatusSevenZipStored
}

// SevenZip reports whether s belongs to the 7z family.
func (s Status) SevenZip() bool {
	return strings.HasPrefix(string(s), "sevenzip-")
}

// Generic reports whether s is inconclusive enough for the byte-scan fallback to refine it.
func (s Status) Generic() bool {
	switch s {
	case StatusRarHeaderNotFound, StatusRarInsufficientData, StatusRarCorruptHeader,
		StatusSevenZipSignatureOK, StatusSevenZipInsufficientData:
		return true
	}
	return false
}

// Reasons carried in Details.Reason.
const (
	ReasonMissingPassword   = "missing-password"
	ReasonWrongPassword     = "wrong-password"
	ReasonPasswordRequired  = "password-required"
	ReasonDecryptFailed     = "decrypt-failed"
	ReasonEncryptedContent  = "encrypted-content"
	ReasonCompressedCoder   = "compressed-coder-detected"
	ReasonUnsupportedCoder  = "unsupported-coder"
	ReasonISOImage          = "iso-image"
	ReasonDiscStructure     = "disc-structure"
	ReasonNoPlayableVideo   = "no-playable-video"
	ReasonNoFilenames       = "no-filenames"
	ReasonSignatureMismatch = "signature-mismatch"
	ReasonTruncated         = "truncated"
	ReasonCRCMismatch       = "crc-mismatch"
	ReasonHeaderParse       = "header-parse-failed"
	ReasonZip64             = "zip64-unsupported"
	ReasonHeuristicScan     = "heuristic-scan"
	ReasonSegmentMissing    = "segment-missing"
	ReasonDecodeFailed      = "decode-failed"
	ReasonDepthExceeded     = "depth-exceeded"
	ReasonUnknownFormat     = "unknown-format"
	ReasonFetchFailed       = "fetch-failed"
)

// Details is the diagnostic payload of a verdict. Every field is optional and
// only meaningful for the statuses that set it.
type Details struct {
	Name             string            `json:"name,omitempty"`
	Method           *int              `json:"method,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	SampleEntries    []string          `json:"sampleEntries,omitempty"`
	PlayableEntries  int               `json:"playableEntries,omitempty"`
	NestedArchives   int               `json:"nestedArchives,omitempty"`
	StoredEntries    int               `json:"storedEntries,omitempty"`
	MediaEntries     int               `json:"mediaEntries,omitempty"`
	Solid            bool              `json:"solid,omitempty"`
	Encrypted        bool              `json:"encrypted,omitempty"`
	HeadersDecrypted bool              `json:"headersDecrypted,omitempty"`
	Coder            string            `json:"coder,omitempty"`
	Offset           int               `json:"offset,omitempty"`
	MissingSegments  []string          `json:"missingSegments,omitempty"`
	Corruption       *CorruptionSignal `json:"corruption,omitempty"`
}

// Verdict is the outcome of inspecting one candidate.
type Verdict struct {
	Status  Status   `json:"status"`
	Details *Details `json:"details,omitempty"`
}

// NewVerdict builds a verdict with optional details.
func NewVerdict(status Status, details *Details) Verdict {
	return Verdict{Status: status, Details: details}
}

// WithReason builds a verdict whose only detail is reason.
func WithReason(status Status, reason string) Verdict {
	return Verdict{Status: status, Details: &Details{Reason: reason}}
}

// Method returns a pointer suitable for Details.Method.
func Method(m int) *int {
	return &m
}

// Reason returns the verdict reason or "".
func (v Verdict) Reason() string {
	if v.Details == nil {
		return ""
	}
	return v.Details.Reason
}

// Playable reports whether the verdict is a positive result.
func (v Verdict) Playable() bool {
	return v.Status.Playable()
}
