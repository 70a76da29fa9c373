// Package extract scans record content for embedded video references.
package extract

import "regexp"

// Reference is a resolved locator for one transferable media object.
type Reference struct {
	// VideoID is the normalized media identifier shared by all link shapes.
	VideoID string
	// WatchURL is the canonical watch link for VideoID.
	WatchURL string
	// MatchedURL is the original text that matched in the record content.
	MatchedURL string
}

// The three recognized link shapes. Each submatch 1 captures the video id.
var shapes = []*regexp.Regexp{
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/embed/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`(?:https?://)?youtu\.be/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]+)`),
}

// Extract returns the first video reference occurring in rawContent, in
// document order across all shapes. The second return is false when the
// content holds no recognizable reference; that is a normal outcome, not
// an error. Malformed markup around a candidate substring simply fails to
// match and is skipped.
func Extract(rawContent string) (Reference, bool) {
	first := -1
	var ref Reference

	for _, re := range shapes {
		loc := re.FindStringSubmatchIndex(rawContent)
		if loc == nil {
			continue
		}
		if first >= 0 && loc[0] >= first {
			continue
		}

		first = loc[0]
		id := rawContent[loc[2]:loc[3]]
		ref = Reference{
			VideoID:    id,
			WatchURL:   "https://www.youtube.com/watch?v=" + id,
			MatchedURL: rawContent[loc[0]:loc[1]],
		}
	}

	return ref, first >= 0
}
