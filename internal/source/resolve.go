package source

import (
	"path/filepath"
	"strings"
)

// Resolve maps a client-supplied URL to something the decoder can open:
//   - /video/xxx or /videos/xxx -> <videoRoot>/xxx
//   - bare relative paths        -> <videoRoot>/<basename>
//   - http(s) URLs and absolute local paths pass through unchanged
func Resolve(raw, videoRoot string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return ""
	}

	if strings.HasPrefix(url, "/video/") || strings.HasPrefix(url, "/videos/") {
		return filepath.Join(videoRoot, filepath.Base(url))
	}

	if !strings.HasPrefix(url, "http") {
		if !filepath.IsAbs(url) {
			return filepath.Join(videoRoot, filepath.Base(url))
		}
		return url
	}

	return url
}

// IsHLS reports whether the resolved URL is a live HLS manifest, which
// selects the ffmpeg subprocess decoder and source-paced ticking.
func IsHLS(url string) bool {
	return strings.HasPrefix(url, "http") && strings.Contains(strings.ToLower(url), ".m3u8")
}

// IsHTTP reports whether the URL is opened over HTTP rather than the
// local filesystem.
func IsHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
