package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanFilenames(t *testing.T) {
	data := []byte("\x00\x01garbage\xffMovie.2024.iso\x00\x13\x00inner.part01.rar\x00\xe9\x00clip.mkv\x00")

	res := ScanFilenames(data)
	assert.Equal(t, 1, res.ISO)
	assert.Equal(t, 1, res.Nested)
	assert.Equal(t, 1, res.Playable)
	assert.Contains(t, res.Names, "Movie.2024.iso")
}

func TestRefineVerdict(t *testing.T) {
	t.Run("iso upgrades rar verdict", func(t *testing.T) {
		v := RefineVerdict(NewVerdict(StatusRarHeaderNotFound, nil), []byte("\x00Movie.iso\x00"))
		assert.Equal(t, StatusRarISOImage, v.Status)
		assert.Equal(t, ReasonHeuristicScan, v.Reason())
		assert.Equal(t, "Movie.iso", v.Details.Name)
	})

	t.Run("iso upgrades 7z verdict", func(t *testing.T) {
		v := RefineVerdict(NewVerdict(StatusSevenZipSignatureOK, nil), []byte("\x00Movie.iso\x00"))
		assert.Equal(t, StatusSevenZipUnsupported, v.Status)
		assert.Equal(t, ReasonISOImage, v.Reason())
	})

	t.Run("nested without playable", func(t *testing.T) {
		v := RefineVerdict(NewVerdict(StatusRarInsufficientData, nil), []byte("\x00inner.rar\x00"))
		assert.Equal(t, StatusRarNestedArchive, v.Status)
	})

	t.Run("nested with playable stays generic", func(t *testing.T) {
		in := NewVerdict(StatusRarCorruptHeader, nil)
		v := RefineVerdict(in, []byte("\x00inner.rar\x00movie.mkv\x00"))
		assert.Equal(t, in, v)
	})

	t.Run("conclusive verdicts are untouched", func(t *testing.T) {
		in := NewVerdict(StatusRarCompressed, nil)
		assert.Equal(t, in, RefineVerdict(in, []byte("\x00Movie.iso\x00")))
	})
}
