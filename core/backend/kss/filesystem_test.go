package kss_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/backend/kss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) (*kss.LocalFilesystem, *mux.Router) {
	router := mux.NewRouter()
	f, err := kss.NewLocalFilesystem(router, kss.LocalConfiguration{BasePath: t.TempDir(), PublicURL: "https://api.kumii.test"}, nil)
	require.NoError(t, err)
	return f, router
}

func get(router http.Handler, rawURL string) *httptest.ResponseRecorder {
	u, _ := url.Parse(rawURL)
	r := httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestLocalPutGet(t *testing.T) {
	f, router := newLocal(t)
	ctx := context.Background()
	key := "conversations/c1/1700000000000-abc.png"

	require.NoError(t, f.Put(ctx, key, "image/png", strings.NewReader("123"), 3))
	signed, err := f.URL(ctx, key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "https://api.kumii.test/files/"+key+"?"))

	w := get(router, signed)
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Equal(t, "123", string(body))
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestLocalInvalidSignature(t *testing.T) {
	f, router := newLocal(t)
	ctx := context.Background()
	require.NoError(t, f.Put(ctx, "a/b", "", strings.NewReader("x"), 1))

	signed, err := f.URL(ctx, "a/b")
	require.NoError(t, err)
	u, _ := url.Parse(signed)
	v := u.Query()
	v.Set("signature", "AAAA")
	u.RawQuery = v.Encode()
	assert.Equal(t, http.StatusUnauthorized, get(router, u.String()).Code)

	// a signature for one key cannot be used for another one
	require.NoError(t, f.Put(ctx, "a/c", "", strings.NewReader("y"), 1))
	u, _ = url.Parse(signed)
	u.Path = "/files/a/c"
	assert.Equal(t, http.StatusUnauthorized, get(router, u.String()).Code)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/files/a/b").Code)
}

func TestLocalInvalidKeys(t *testing.T) {
	f, _ := newLocal(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.Put(ctx, "../escape", "", strings.NewReader("x"), 1), kss.ErrInvalidKey)
	assert.ErrorIs(t, f.Put(ctx, "", "", strings.NewReader("x"), 1), kss.ErrInvalidKey)
	_, err := f.URL(ctx, "a/../../b")
	assert.ErrorIs(t, err, kss.ErrInvalidKey)
}

func TestLocalSizeMismatch(t *testing.T) {
	f, _ := newLocal(t)
	assert.Error(t, f.Put(context.Background(), "short", "", strings.NewReader("12"), 3))
}

func TestLocalDelete(t *testing.T) {
	f, router := newLocal(t)
	ctx := context.Background()
	require.NoError(t, f.Put(ctx, "to/delete", "text/plain", strings.NewReader("bye"), 3))
	signed, err := f.URL(ctx, "to/delete")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, get(router, signed).Code)

	require.NoError(t, f.Delete(ctx, "to/delete"))
	assert.Equal(t, http.StatusNotFound, get(router, signed).Code)
	assert.NoError(t, f.Delete(ctx, "to/delete"))
}
