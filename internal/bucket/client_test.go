package bucket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteURI(t *testing.T) {
	url, err := RewriteURI("gs://my-bucket/path/to/object")
	require.NoError(t, err)
	require.Equal(t, "https://storage.googleapis.com/my-bucket/path/to/object", url)

	_, err = RewriteURI("https://not-gs")
	require.ErrorIs(t, err, ErrInvalidURI)

	_, err = RewriteURI("gs://no-object-path")
	require.ErrorIs(t, err, ErrInvalidURI)
}

func TestObjectURL(t *testing.T) {
	url, err := ObjectURL("gs://bucket/channel", "sha1/de/ad/deadbeef")
	require.NoError(t, err)
	require.Equal(t, "https://storage.googleapis.com/bucket/channel/sha1/de/ad/deadbeef", url)
}

func TestHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	ok, err := c.Head(context.Background(), srv.URL+"/present")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Head(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient()
	rc, _, err := c.GetStream(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestGetStream_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	_, _, err := c.GetStream(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetJSON_DecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messageCount": 3}`))
	}))
	defer srv.Close()

	c := NewClient()
	var v struct {
		MessageCount int64 `json:"messageCount"`
	}
	found, err := c.GetJSON(context.Background(), srv.URL, false, &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), v.MessageCount)
}

func TestGetJSON_CacheBustAddsQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient()
	var v map[string]any
	_, err := c.GetJSON(context.Background(), srv.URL, true, &v)
	require.NoError(t, err)
	require.Contains(t, gotQuery, "cb=")
}

func TestGetJSON_NotFoundReturnsFalseNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	var v map[string]any
	found, err := c.GetJSON(context.Background(), srv.URL, false, &v)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPutSigned(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	require.NoError(t, c.PutSigned(context.Background(), srv.URL, []byte("uploaded")))
	require.Equal(t, "uploaded", string(gotBody))
}

func TestPutSigned_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient()
	err := c.PutSigned(context.Background(), srv.URL, []byte("x"))
	require.ErrorIs(t, err, ErrFatal)
}
