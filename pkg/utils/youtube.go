package utils

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotYouTube = errors.New("not a YouTube URL")
	videoIDRe     = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)
)

// ExtractYouTubeID returns the video id of a watch, short-link, embed or
// shorts URL.
func ExtractYouTubeID(youtubeURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(youtubeURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrNotYouTube, youtubeURL)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/embed/"):
			id = strings.TrimPrefix(u.Path, "/embed/")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = strings.TrimPrefix(u.Path, "/shorts/")
		case strings.HasPrefix(u.Path, "/v/"):
			id = strings.TrimPrefix(u.Path, "/v/")
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrNotYouTube, youtubeURL)
	}

	id = strings.Trim(id, "/")
	if !videoIDRe.MatchString(id) {
		return "", fmt.Errorf("unable to extract video ID from URL: %s", youtubeURL)
	}
	return id, nil
}

// IsYouTubeURL reports whether ExtractYouTubeID accepts urlStr.
func IsYouTubeURL(urlStr string) bool {
	_, err := ExtractYouTubeID(urlStr)
	return err == nil
}

// NewJobID returns a random UUID v4 string.
func NewJobID() string {
	return uuid.NewString()
}
