// Package youtube implements capability.Uploader against the YouTube Data
// API v3. Authentication follows the source tool's model: an operator
// runs a one-time interactive OAuth consent flow out-of-band and drops
// the resulting client_secret.json/token.json pair in the storage root's
// youtube/ directory; this package only ever refreshes and uses that
// stored token, it never runs the consent flow itself, since the daemon
// has no browser to redirect through.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/log"
)

var scopes = []string{
	youtube.YoutubeUploadScope,
	youtube.YoutubeScope,
	youtube.YoutubeReadonlyScope,
}

// Uploader is a capability.Uploader backed by one Google Cloud OAuth
// client. One instance is shared across every team, matching the
// source's single-channel-per-deployment assumption.
type Uploader struct {
	credentialsFile string
	tokenFile       string

	svc *youtube.Service
}

func New(credentialsFile, tokenFile string) *Uploader {
	return &Uploader{credentialsFile: credentialsFile, tokenFile: tokenFile}
}

// newWithService builds an Uploader around an already-built service,
// skipping the on-disk OAuth dance entirely. Used by tests to point at a
// local httptest server instead of the real YouTube API.
func newWithService(svc *youtube.Service) *Uploader {
	return &Uploader{svc: svc}
}

func (u *Uploader) Authenticate(ctx context.Context) error {
	if u.svc != nil {
		return nil
	}

	secret, err := os.ReadFile(u.credentialsFile)
	if err != nil {
		return fmt.Errorf("reading YouTube client secret %s: %w", u.credentialsFile, err)
	}
	conf, err := google.ConfigFromJSON(secret, scopes...)
	if err != nil {
		return fmt.Errorf("parsing YouTube client secret: %w", err)
	}

	tok, err := loadToken(u.tokenFile)
	if err != nil {
		return fmt.Errorf("no stored YouTube token at %s (run the one-time auth helper first): %w", u.tokenFile, err)
	}

	src := conf.TokenSource(ctx, tok)
	httpClient := oauth2.NewClient(ctx, &savingTokenSource{src: src, path: u.tokenFile})

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("building YouTube API client: %w", err)
	}
	u.svc = svc
	return nil
}

// savingTokenSource persists a refreshed token back to disk the first
// time oauth2 mints one, so the daemon never has to re-run consent just
// because its access token expired between restarts.
type savingTokenSource struct {
	src  oauth2.TokenSource
	path string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if err := saveToken(s.path, tok); err != nil {
		log.LogNoRequestID("failed to persist refreshed YouTube token", "path", s.path, "err", err)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token file: %w", err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

func (u *Uploader) FindPlaylist(ctx context.Context, name string) (string, bool, error) {
	call := u.svc.Playlists.List([]string{"snippet"}).Mine(true).MaxResults(50)
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return "", false, fmt.Errorf("listing playlists: %w", err)
		}
		for _, p := range resp.Items {
			if p.Snippet != nil && p.Snippet.Title == name {
				return p.Id, true, nil
			}
		}
		if resp.NextPageToken == "" {
			return "", false, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (u *Uploader) CreatePlaylist(ctx context.Context, name, description, privacy string) (string, error) {
	p := &youtube.Playlist{
		Snippet: &youtube.PlaylistSnippet{
			Title:       name,
			Description: description,
		},
		Status: &youtube.PlaylistStatus{
			PrivacyStatus: privacy,
		},
	}
	resp, err := u.svc.Playlists.Insert([]string{"snippet", "status"}, p).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating playlist %q: %w", name, err)
	}
	return resp.Id, nil
}

// youtubeCategorySports is the YouTube video category ID for sports
// content, matching the source tool's upload metadata.
const youtubeCategorySports = "17"

func (u *Uploader) Upload(ctx context.Context, localPath, title, description string, tags []string, privacy, playlistID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: description,
			Tags:        tags,
			CategoryId:  youtubeCategorySports,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	call := u.svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(f).
		ProgressUpdater(func(current, total int64) {
			log.LogNoRequestID("youtube upload progress", "path", localPath, "sent", current, "total", total)
		})

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", localPath, err)
	}

	// Playlist membership is the caller's responsibility: Worker.uploadOne
	// calls AddToPlaylist itself right after Upload returns.
	return resp.Id, nil
}

func (u *Uploader) AddToPlaylist(ctx context.Context, videoID, playlistID string) error {
	item := &youtube.PlaylistItem{
		Snippet: &youtube.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &youtube.ResourceId{
				Kind:    "youtube#video",
				VideoId: videoID,
			},
		},
	}
	_, err := u.svc.PlaylistItems.Insert([]string{"snippet"}, item).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("adding video %s to playlist %s: %w", videoID, playlistID, err)
	}
	return nil
}

var _ capability.Uploader = (*Uploader)(nil)
