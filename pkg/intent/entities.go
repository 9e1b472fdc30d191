package intent

import (
	"regexp"
	"strings"
)

type extractor struct {
	re    *regexp.Regexp
	group int // Submatch holding the value; 0 = whole match
}

func ex(expr string, group int) extractor {
	return extractor{re: regexp.MustCompile(expr), group: group}
}

const weekdays = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`

// entityRules hold an ordered extractor list per entity type; the first match per type wins.
//
//nolint:gochecknoglobals // Compiled once, read-only
var entityRules = []struct {
	entity     EntityType
	extractors []extractor
}{
	{EntityDate, []extractor{
		ex(`\b(day after tomorrow|today|tonight|tomorrow)\b`, 1),
		ex(`\b(next (?:week|month|year|`+weekdays+`))\b`, 1),
		ex(`\b(this (?:weekend|week|month|evening|afternoon))\b`, 1),
		ex(`\b(end of (?:the )?(?:day|week|month))\b`, 1),
		ex(`\b(?:on |by |due )?(`+weekdays+`)\b`, 1),
		ex(`\b(\d{4}-\d{2}-\d{2})\b`, 1),
		ex(`\b(in \d+ (?:days?|weeks?|months?))\b`, 1),
	}},
	{EntityPriority, []extractor{
		ex(`\b(high|medium|low|urgent|critical|normal|minor|top|moderate)[ -]priority\b`, 1),
		ex(`\bpriority(?: of (?:task|item|it|this|that)(?: #?\d+)?)?(?: to| is| as|:)? (\w+)\b`, 1),
		ex(`\b(urgent|urgently|asap|critical|important)\b`, 1),
	}},
	{EntityCategory, []extractor{
		ex(`\b(?:category|tagged|tag|label|labelled|labeled)(?: as| to|:)? (\w+)\b`, 1),
		ex(`\b(?:for|in|under|to) (?:my |the )?(work|personal|home|shopping|health|finance|errands|school|family|office|job|household|fitness|groceries)(?: category| list)?\b`, 1),
	}},
	{EntityNumber, []extractor{
		ex(`#\s*(\d+)\b`, 1),
		ex(`\b(?:task|todo|to-do|item|number|no\.?|id)\s*(?:#|number|no\.?)?\s*(\d+)\b`, 1),
		ex(`^\s*(\d+)\s*[.!?]?\s*$`, 1),
		ex(`\b(?:it's|its|it is|that's) (\d+)\b`, 1),
	}},
	{EntityStatus, []extractor{
		ex(`\b(completed|done|finished)\s+(?:tasks|todos|items|ones)\b`, 1),
		ex(`\b(pending|open|incomplete|outstanding|remaining|unfinished)(?:\s+(?:tasks|todos|items|ones))?\b`, 1),
	}},
	{EntityQuery, []extractor{
		ex(`\b(?:search|find|look for|look up)\s+(?:(?:my|the|all)\s+)?(?:(?:tasks|todos)\s+)?(?:for|about|with|containing|mentioning|matching|called|named)?\s*(.+)$`, 1),
		ex(`\b(?:tasks|todos) (?:about|with|containing|mentioning|matching) (.+)$`, 1),
	}},
}

// Extract runs every entity extractor over normalized text. It returns the value and the raw
// matched fragment per entity type.
func Extract(normalized string) (entities, spans map[EntityType]string) {
	entities = make(map[EntityType]string)
	spans = make(map[EntityType]string)

	for _, er := range entityRules {
		for _, x := range er.extractors {
			m := x.re.FindStringSubmatch(normalized)
			if m == nil {
				continue
			}
			value := strings.Trim(m[x.group], ` "'.,!?`)
			if value == "" {
				continue
			}
			entities[er.entity] = value
			spans[er.entity] = strings.TrimSpace(m[0])
			break
		}
	}
	return entities, spans
}
