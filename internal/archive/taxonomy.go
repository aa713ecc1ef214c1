package archive

import (
	"path"
	"regexp"
	"strings"
)

var (
	videoExtensions = set("mkv", "mp4", "m4v", "avi", "mov", "wmv", "ts", "m2ts", "mts",
		"mpg", "mpeg", "webm", "flv", "ogv", "3gp", "divx", "xvid", "rmvb", "asf", "vc1", "h264", "hevc")

	isoExtensions = set("iso")

	archiveExtensions = set("rar", "7z", "zip", "tar", "gz", "tgz", "bz2", "xz", "cab", "arj", "lzh", "z")

	discExtensions = set("bdjo", "clpi", "mpls", "bup", "ifo", "vob")

	nonVideoMediaExtensions = set("mp3", "flac", "aac", "m4a", "ogg", "opus", "wav", "wma", "ape", "alac",
		"jpg", "jpeg", "png", "gif", "bmp", "webp", "srt", "sub", "idx", "ass", "ssa", "sup", "nfo", "txt", "sfv", "par2")

	// Volume suffixes that only make sense as archive members: .r00, .s01, .7z.001, .zip.001, .z01, .001
	archiveVolumePattern = regexp.MustCompile(`(?i)(\.r\d{2,3}|\.s\d{2}|\.z\d{2}|\.(7z|zip|rar)\.\d{2,3}|\.\d{3}|\.part\d+\.rar)$`)

	discDirPattern     = regexp.MustCompile(`(?i)(^|[/\\])(BDMV|VIDEO_TS|AUDIO_TS|CERTIFICATE)([/\\]|$)`)
	sampleProofPattern = regexp.MustCompile(`(?i)(^|[^a-z0-9])(sample|proof)([^a-z0-9]|$)`)
)

func set(exts ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[e] = struct{}{}
	}
	return m
}

// ext returns the lower-cased extension of the last path element, without the dot.
func ext(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	e := path.Ext(base)
	if len(e) < 2 {
		return ""
	}
	return strings.ToLower(e[1:])
}

func has(m map[string]struct{}, name string) bool {
	_, ok := m[ext(name)]
	return ok
}

// IsVideo reports whether name carries a playable video extension.
func IsVideo(name string) bool {
	return has(videoExtensions, name)
}

// IsISO reports whether name is a disc image.
func IsISO(name string) bool {
	return has(isoExtensions, name)
}

// IsArchive reports whether name is an archive or an archive volume.
func IsArchive(name string) bool {
	return has(archiveExtensions, name) || archiveVolumePattern.MatchString(name)
}

// IsDiscStructure reports whether name belongs to a Blu-ray or DVD folder layout.
func IsDiscStructure(name string) bool {
	return discDirPattern.MatchString(name) || has(discExtensions, name)
}

// IsNonVideoMedia reports whether name is audio, artwork, subtitles or release metadata.
func IsNonVideoMedia(name string) bool {
	return has(nonVideoMediaExtensions, name)
}

// IsSampleOrProof reports whether name looks like a sample clip or proof image.
func IsSampleOrProof(name string) bool {
	return sampleProofPattern.MatchString(name)
}

// IsPlayable reports whether name is a video that is neither a sample nor a proof.
func IsPlayable(name string) bool {
	return IsVideo(name) && !IsDiscStructure(name) && !IsSampleOrProof(name)
}
