package transcript

import (
	"regexp"

	"github.com/opensps/voicecore/internal/types"
)

var mediaMarkerPattern = regexp.MustCompile(`\[\[MEDIA:([^\]]+)\]\]`)

// parseMediaMarker scans text for a `[[MEDIA:<id>]]` marker, strips it, and
// resolves it against resolver. An unresolved id still has its marker
// stripped; the caller is responsible for emitting the debug warning.
func parseMediaMarker(text string, resolver MediaResolver) (cleanText string, media *types.Media) {
	loc := mediaMarkerPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}

	id := text[loc[2]:loc[3]]
	clean := text[:loc[0]] + text[loc[1]:]

	if resolver != nil {
		if ref, ok := resolver(id); ok {
			return clean, &ref
		}
	}
	return clean, nil
}
