package ai

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {},
	"by": {}, "from": {}, "and": {}, "or": {},
}

// TagsFromCaption derives tags from a caption: lowercase words of three or
// more characters with stop words removed, deduplicated in first-seen order.
func TagsFromCaption(caption string) []string {
	words := wordPattern.FindAllString(strings.ToLower(caption), -1)
	seen := make(map[string]struct{}, len(words))
	tags := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) <= 2 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tags = append(tags, word)
	}
	return tags
}
