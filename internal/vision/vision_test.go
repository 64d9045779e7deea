package vision

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	luerrors "github.com/lunabot/luna/internal/errors"
)

// Minimal valid headers; http.DetectContentType only needs the first
// bytes.
var (
	pngHeader  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0}
	gifHeader  = []byte("GIF89a")
)

func TestDetectSupportedTypes(t *testing.T) {
	for _, tc := range []struct {
		header []byte
		want   string
	}{
		{pngHeader, "image/png"},
		{jpegHeader, "image/jpeg"},
		{gifHeader, "image/gif"},
	} {
		got, err := Detect(tc.header)
		require.NoError(t, err, tc.want)
		assert.Equal(t, tc.want, got)
	}
}

func TestDetectRejectsNonImages(t *testing.T) {
	_, err := Detect([]byte("just some text, definitely not pixels"))
	require.Error(t, err)
	assert.True(t, luerrors.IsCategory(err, luerrors.ErrInvalidInput))

	_, err = Detect(nil)
	require.Error(t, err)
	assert.True(t, luerrors.IsCategory(err, luerrors.ErrInvalidInput))
}

func TestDetectRejectsOversizedImage(t *testing.T) {
	big := append(bytes.Clone(pngHeader), make([]byte, MaxImageBytes)...)
	_, err := Detect(big)
	require.Error(t, err)
	assert.ErrorContains(t, err, "too large")
}
