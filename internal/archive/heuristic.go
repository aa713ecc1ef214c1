package archive

import (
	"regexp"

	"golang.org/x/text/encoding/charmap"
)

const maxHeuristicNames = 32

// filenameRunPattern matches printable runs ending in an extension the taxonomy knows about.
var filenameRunPattern = regexp.MustCompile(`(?i)[A-Za-z0-9][A-Za-z0-9 ._()\[\]{}+,&'!-]{0,240}\.(` +
	`mkv|mp4|m4v|avi|mov|wmv|ts|m2ts|mts|mpg|mpeg|webm|flv|ogv|divx|vob|ifo|bup|mpls|clpi|bdjo|` +
	`iso|rar|r\d{2}|7z|zip|tar|gz|bz2|xz)\b`)

// HeuristicResult is what the byte scan found.
type HeuristicResult struct {
	Names    []string
	ISO      int
	Disc     int
	Nested   int
	Playable int

	firstISO    string
	firstNested string
}

// ScanFilenames reads data as Latin-1 text and collects filename-shaped substrings.
// It is best-effort: binary payloads can contain extension-like byte runs.
func ScanFilenames(data []byte) HeuristicResult {
	var res HeuristicResult

	text, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return res
	}

	seen := make(map[string]struct{})
	for _, m := range filenameRunPattern.FindAll(text, -1) {
		name := string(m)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if len(res.Names) < maxHeuristicNames {
			res.Names = append(res.Names, name)
		}

		switch {
		case IsISO(name):
			res.ISO++
			if res.firstISO == "" {
				res.firstISO = name
			}
		case IsDiscStructure(name):
			res.Disc++
		case IsArchive(name):
			res.Nested++
			if res.firstNested == "" {
				res.firstNested = name
			}
		case IsVideo(name):
			res.Playable++
		}
	}

	return res
}

// RefineVerdict upgrades a generic verdict when the byte scan of data finds a
// disc image, or nested archives without any playable video. Other verdicts
// are returned unchanged.
func RefineVerdict(v Verdict, data []byte) Verdict {
	if !v.Status.Generic() || len(data) == 0 {
		return v
	}

	res := ScanFilenames(data)
	samples := res.Names
	if len(samples) > maxSampleEntries {
		samples = samples[:maxSampleEntries]
	}

	switch {
	case res.ISO > 0:
		d := &Details{Name: res.firstISO, SampleEntries: samples, Reason: ReasonHeuristicScan}
		if v.Status.SevenZip() {
			d.Reason = ReasonISOImage
			return NewVerdict(StatusSevenZipUnsupported, d)
		}
		return NewVerdict(StatusRarISOImage, d)
	case res.Nested > 0 && res.Playable == 0:
		d := &Details{
			Name:           res.firstNested,
			SampleEntries:  samples,
			NestedArchives: res.Nested,
			Reason:         ReasonHeuristicScan,
		}
		if v.Status.SevenZip() {
			return NewVerdict(StatusSevenZipNestedArchive, d)
		}
		return NewVerdict(StatusRarNestedArchive, d)
	}

	return v
}
