package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPBlocker(t *testing.T) {
	list, err := NewBlockList([]string{"10.0.0.1", " 10.0.0.2 ", "172.16.0.0/12"}, "")
	require.NoError(t, err)
	handler := IPBlocker(list)(okHandler)

	serve := func(remote string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("Blocks_Listed_IP", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, serve("10.0.0.1:12345"))
		assert.Equal(t, http.StatusForbidden, serve("10.0.0.2:1"))
	})

	t.Run("Blocks_Subnet", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, serve("172.20.1.9:443"))
	})

	t.Run("Allows_Clean_IP", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve("192.168.1.100:12345"))
	})

	t.Run("Dynamic_Blocking", func(t *testing.T) {
		require.NoError(t, list.Add("1.2.3.4"))
		assert.Equal(t, http.StatusForbidden, serve("1.2.3.4:5555"))

		list.Remove("1.2.3.4")
		assert.Equal(t, http.StatusOK, serve("1.2.3.4:5555"))
	})
}

func TestNewBlockListFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "blocklist.txt")
	require.NoError(t, os.WriteFile(file, []byte("# crawlers\n203.0.113.7\n\n2001:db8::/32\n"), 0o644))

	list, err := NewBlockList(nil, file)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Len())
	assert.True(t, list.IsBlocked("203.0.113.7"))
	assert.True(t, list.IsBlocked("2001:db8::1"))
	assert.False(t, list.IsBlocked("not-an-ip"))

	_, err = NewBlockList(nil, filepath.Join(t.TempDir(), "missing.txt"))
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("999.1.1.1\n"), 0o644))
	_, err = NewBlockList(nil, file)
	assert.ErrorContains(t, err, "blocklist.txt:1")
}

func TestIPBlockerEmptyListPassesThrough(t *testing.T) {
	list, err := NewBlockList(nil, "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	IPBlocker(list)(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	IPBlocker(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
