package download

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// TitleLookup resolves video titles through the YouTube Data API, which is
// much cheaper than a yt-dlp metadata round-trip when the source is a
// YouTube URL. It is optional; the downloader remains the fallback.
type TitleLookup struct {
	service *youtube.Service
}

// NewTitleLookup builds a lookup from an API key, or from a service account
// JSON file when no key is given. Returns nil when neither is configured.
func NewTitleLookup(ctx context.Context, apiKey, credentialsFile string) (*TitleLookup, error) {
	switch {
	case apiKey != "":
		service, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, fmt.Errorf("create YouTube service: %w", err)
		}
		return &TitleLookup{service: service}, nil

	case credentialsFile != "":
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read YouTube credentials: %w", err)
		}
		config, err := google.JWTConfigFromJSON(data, youtube.YoutubeReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse YouTube credentials: %w", err)
		}
		service, err := youtube.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
		if err != nil {
			return nil, fmt.Errorf("create YouTube service: %w", err)
		}
		return &TitleLookup{service: service}, nil
	}
	return nil, nil
}

// Title fetches the title for a YouTube watch URL. Non-YouTube URLs return
// an error so the caller can fall through to the downloader.
func (t *TitleLookup) Title(ctx context.Context, rawURL string) (string, error) {
	videoID, err := ExtractVideoID(rawURL)
	if err != nil {
		return "", err
	}

	resp, err := t.service.Videos.List([]string{"snippet"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("YouTube lookup for %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return "", fmt.Errorf("YouTube video %s not found", videoID)
	}
	return resp.Items[0].Snippet.Title, nil
}

// ExtractVideoID pulls the 11-character video id out of the common YouTube
// URL shapes (watch?v=, youtu.be/, shorts/, embed/).
func ExtractVideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse URL %q: %w", rawURL, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id, nil
		}
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); id != "" {
			return id, nil
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				if id, _, _ := strings.Cut(rest, "/"); id != "" {
					return id, nil
				}
			}
		}
	}
	return "", fmt.Errorf("no YouTube video id in %q", rawURL)
}
