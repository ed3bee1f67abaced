package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *youtube.Service {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	svc, err := youtube.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
		option.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return svc
}

func TestFindPlaylistReturnsMatchingID(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/playlists"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "PL123", "snippet": map[string]any{"title": "Thunder FC"}},
			},
		})
	})
	u := newWithService(svc)

	id, found, err := u.FindPlaylist(context.Background(), "Thunder FC")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "PL123", id)
}

func TestFindPlaylistReportsNotFoundWithoutMatch(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	})
	u := newWithService(svc)

	_, found, err := u.FindPlaylist(context.Background(), "Nonexistent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCreatePlaylistReturnsNewID(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/playlists"))
		json.NewEncoder(w).Encode(map[string]any{"id": "PLNEW"})
	})
	u := newWithService(svc)

	id, err := u.CreatePlaylist(context.Background(), "Thunder FC", "desc", "unlisted")
	require.NoError(t, err)
	require.Equal(t, "PLNEW", id)
}

func TestAddToPlaylistSendsResourceID(t *testing.T) {
	var body map[string]any
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]any{"id": "PLI1"})
	})
	u := newWithService(svc)

	err := u.AddToPlaylist(context.Background(), "VID1", "PL123")
	require.NoError(t, err)

	snippet := body["snippet"].(map[string]any)
	require.Equal(t, "PL123", snippet["playlistId"])
	resourceID := snippet["resourceId"].(map[string]any)
	require.Equal(t, "VID1", resourceID["videoId"])
}

func TestUploadReturnsErrorWhenFileMissing(t *testing.T) {
	u := &Uploader{}
	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), "title", "desc", nil, "unlisted", "")
	require.Error(t, err)
}

func TestAuthenticateReturnsErrorWhenCredentialsFileMissing(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "client_secret.json"), filepath.Join(t.TempDir(), "token.json"))
	err := u.Authenticate(context.Background())
	require.Error(t, err)
}

func TestAuthenticateReturnsErrorWhenTokenFileMissing(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "client_secret.json")
	require.NoError(t, os.WriteFile(secretPath, []byte(sampleClientSecret), 0o644))

	u := New(secretPath, filepath.Join(dir, "token.json"))
	err := u.Authenticate(context.Background())
	require.Error(t, err)
}

const sampleClientSecret = `{
  "installed": {
    "client_id": "test-client-id.apps.googleusercontent.com",
    "client_secret": "test-client-secret",
    "auth_uri": "https://accounts.google.com/o/oauth2/auth",
    "token_uri": "https://oauth2.googleapis.com/token",
    "redirect_uris": ["http://localhost:8080/"]
  }
}`
