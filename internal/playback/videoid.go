package playback

import "regexp"

var (
	bareIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	urlIDPattern  = regexp.MustCompile(`(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?|shorts|live)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`)
)

// ExtractVideoID returns the 11 character video identifier contained in
// input, which may be a bare identifier or a watch, embed, short or share
// URL. It returns "" when no identifier can be found.
func ExtractVideoID(input string) string {
	if input == "" {
		return ""
	}
	if bareIDPattern.MatchString(input) {
		return input
	}
	if m := urlIDPattern.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return ""
}
