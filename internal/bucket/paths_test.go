package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileObjectPath(t *testing.T) {
	path, err := FileObjectPath("deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)
	require.Equal(t, "sha1/de/ad/be/deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", path)

	_, err = FileObjectPath("too-short")
	require.ErrorIs(t, err, ErrFatal)
}

func TestSubfeedDirPath(t *testing.T) {
	feedID := "1111111111111111111111111111111111111111111111111111111111111111"
	subfeedHash := "2222222222222222222222222222222222222222"
	path, err := SubfeedDirPath(feedID, subfeedHash)
	require.NoError(t, err)
	require.Equal(t,
		"feeds/11/11/11/"+feedID+"/subfeeds/22/22/22/"+subfeedHash,
		path,
	)
}

func TestSubfeedJSONPath(t *testing.T) {
	feedID := "1111111111111111111111111111111111111111111111111111111111111111"
	subfeedHash := "2222222222222222222222222222222222222222"
	path, err := SubfeedJSONPath(feedID, subfeedHash)
	require.NoError(t, err)
	require.Equal(t, "feeds/11/11/11/"+feedID+"/subfeeds/22/22/22/"+subfeedHash+"/subfeed.json", path)
}

func TestSubfeedMessagePath(t *testing.T) {
	feedID := "1111111111111111111111111111111111111111111111111111111111111111"
	subfeedHash := "2222222222222222222222222222222222222222"
	path, err := SubfeedMessagePath(feedID, subfeedHash, 7)
	require.NoError(t, err)
	require.Equal(t, "feeds/11/11/11/"+feedID+"/subfeeds/22/22/22/"+subfeedHash+"/7", path)
}
