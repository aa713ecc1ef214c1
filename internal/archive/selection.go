package archive

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/javi11/nzbinspect/internal/nzb"
)

// PartKind identifies the volume naming scheme of an archive member.
type PartKind int

const (
	PartUnknown PartKind = iota
	PartRar              // name.rar
	PartRarR             // name.r00
	PartRarPart          // name.part01.rar
	PartSevenZip         // name.7z
	PartSevenZipVolume   // name.7z.001
	PartZip              // name.zip
	PartNumeric          // name.001
)

var (
	partPattern     = regexp.MustCompile(`(?i)^(.+)\.part(\d+)\.rar$`)
	rPattern        = regexp.MustCompile(`(?i)^(.+)\.r(\d{2,3})$`)
	sevenZipPattern = regexp.MustCompile(`(?i)^(.+)\.7z\.(\d{2,3})$`)
	numericPattern  = regexp.MustCompile(`^(.+)\.(\d{3})$`)
	releasePattern  = regexp.MustCompile(`(?i)(2160p|1080p|720p|576p|480p|s\d{1,2}e\d{1,3}|x26[45]|h\.?26[45]|hevc|web-?dl|bluray|remux)`)
)

// ParsePart extracts the family base name, naming scheme and volume number of
// an archive member. Volume numbers are as written in the name (part01 is 1, r00 is 0).
func ParsePart(filename string) (base string, kind PartKind, number int) {
	lower := strings.ToLower(filename)

	if m := partPattern.FindStringSubmatch(filename); m != nil {
		return m[1], PartRarPart, ParseInt(m[2])
	}
	if strings.HasSuffix(lower, ".rar") {
		return filename[:len(filename)-4], PartRar, 0
	}
	if m := rPattern.FindStringSubmatch(filename); m != nil {
		return m[1], PartRarR, ParseInt(m[2])
	}
	if strings.HasSuffix(lower, ".7z") {
		return filename[:len(filename)-3], PartSevenZip, 0
	}
	if m := sevenZipPattern.FindStringSubmatch(filename); m != nil {
		return m[1], PartSevenZipVolume, ParseInt(m[2])
	}
	if strings.HasSuffix(lower, ".zip") {
		return filename[:len(filename)-4], PartZip, 0
	}
	if m := numericPattern.FindStringSubmatch(filename); m != nil {
		return m[1], PartNumeric, ParseInt(m[2])
	}

	return filename, PartUnknown, -1
}

// ScorePart ranks a member by how likely it is to carry the archive headers.
// Higher is better; a negative score means the name is not an archive member.
func ScorePart(filename string) int {
	_, kind, number := ParsePart(filename)

	var score int
	switch kind {
	case PartRar:
		score = 100
	case PartSevenZip:
		score = 100
	case PartRarR:
		score = 80 - min(number, 60)
	case PartSevenZipVolume:
		if number == 1 {
			score = 80
		} else {
			score = 60 - min(number, 50)
		}
	case PartRarPart:
		score = 60 - min(number, 50)
	case PartZip:
		score = 70
	case PartNumeric:
		score = 40 - min(number, 30)
	default:
		return -1
	}

	if IsSampleOrProof(filename) {
		score -= 50
	}
	if strings.HasSuffix(strings.ToLower(filename), ".nfo") {
		score -= 100
	}
	if releasePattern.MatchString(filename) {
		score += 10
	}

	return score
}

// SelectPart picks the archive member most likely to carry full metadata.
// Only entries with at least one segment are considered.
func SelectPart(files []nzb.FileEntry) (nzb.FileEntry, bool) {
	best := -1
	bestScore := -1

	for i, f := range files {
		if len(f.Segments) == 0 || f.Filename == "" {
			continue
		}
		score := ScorePart(f.Filename)
		if score < 0 {
			continue
		}
		if score > bestScore || (score == bestScore && f.Filename < files[best].Filename) {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return nzb.FileEntry{}, false
	}

	slog.Default().With("component", "part-selector").Debug("Selected archive part",
		"filename", files[best].Filename,
		"score", bestScore,
		"candidates", len(files))

	return files[best], true
}

// SevenZipVolumes returns the members of the 7z family of filename sorted by
// volume number. A single .7z archive yields itself.
func SevenZipVolumes(files []nzb.FileEntry, filename string) []nzb.FileEntry {
	base, kind, _ := ParsePart(filename)
	if kind != PartSevenZip && kind != PartSevenZipVolume {
		return nil
	}

	type volume struct {
		entry  nzb.FileEntry
		number int
	}
	var volumes []volume
	for _, f := range files {
		b, k, n := ParsePart(f.Filename)
		if k != kind || !strings.EqualFold(b, base) || len(f.Segments) == 0 {
			continue
		}
		volumes = append(volumes, volume{entry: f, number: n})
	}

	sort.SliceStable(volumes, func(i, j int) bool { return volumes[i].number < volumes[j].number })

	out := make([]nzb.FileEntry, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, v.entry)
	}
	return out
}
