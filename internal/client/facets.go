package client

import (
	"regexp"
	"strings"

	"github.com/bluesky-social/indigo/api/bsky"
)

var (
	// Bare domains are not linked; only explicit http(s) URLs
	urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)
	tagPattern = regexp.MustCompile(`(^|\s)#([^\s#.,!?;:()\[\]"']+)`)
)

// createTextFacets builds link and hashtag facets so they render as clickable
// on Bluesky. Offsets are byte offsets into the UTF-8 text, as the lexicon
// requires.
func createTextFacets(text string) []*bsky.RichtextFacet {
	var facets []*bsky.RichtextFacet

	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		// Trailing sentence punctuation is not part of the URL
		end = start + len(strings.TrimRight(text[start:end], ".,;:!?)"))

		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{
				ByteStart: int64(start),
				ByteEnd:   int64(end),
			},
			Features: []*bsky.RichtextFacet_Features_Elem{
				{
					RichtextFacet_Link: &bsky.RichtextFacet_Link{
						Uri: text[start:end],
					},
				},
			},
		})
	}

	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		// m[4]:m[5] is the tag without '#'; the facet covers the '#'
		tagStart, tagEnd := m[4], m[5]
		tag := text[tagStart:tagEnd]
		if isDigits(tag) {
			continue
		}

		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{
				ByteStart: int64(tagStart - 1),
				ByteEnd:   int64(tagEnd),
			},
			Features: []*bsky.RichtextFacet_Features_Elem{
				{
					RichtextFacet_Tag: &bsky.RichtextFacet_Tag{
						Tag: tag,
					},
				},
			},
		})
	}

	return facets
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
