// Package pattern provides deterministic keyword and regex extraction of
// todo attributes: priority, project, tags, recurrence and duration hints.
//
// Every extractor reports the exact substrings it matched so callers can
// strip them from the input to build a clean title.
package pattern

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// Result is the output of Extract.
type Result struct {
	Priority model.Priority
	Project  string
	Tags     []string
	Spans    []string // every matched substring, in match order
}

// priorityTier maps a set of keywords to one priority. Tiers are checked in
// order and the first tier with any match wins.
type priorityTier struct {
	priority model.Priority
	patterns []*regexp.Regexp
}

var priorityTiers = []priorityTier{
	{model.PriorityUrgent, keywordPatterns("urgent", "asap", "emergency", "!!!")},
	{model.PriorityHigh, keywordPatterns("important", "high priority", "!!")},
	{model.PriorityLow, keywordPatterns("low priority", "maybe", "someday")},
}

// StopWords are removed from titles during cleanup.
var StopWords = []string{"at", "on", "by", "due", "for", "in"}

// projectTerminators end a project phrase in addition to punctuation.
var projectTerminators = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		at on by due for in to with from and or the a an this next every each
		today tomorrow tonight morning afternoon evening night noon midnight
		day days week weeks month months year
		monday tuesday wednesday thursday friday saturday sunday
		january february march april may june july august september october november december
		one two three four five six seven eight nine ten
		urgent asap important maybe someday priority`) {
		projectTerminators[w] = true
	}
}

var (
	projectLeadRE = regexp.MustCompile(`(?i)\b(for|in)\s+`)
	tagRE         = regexp.MustCompile(`#([\p{L}\p{N}_][\p{L}\p{N}_-]*)`)
	spaceRE       = regexp.MustCompile(`\s+`)
)

func keywordPatterns(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		q := regexp.QuoteMeta(w)
		if unicode.IsLetter(rune(w[0])) {
			q = `\b` + q + `\b`
		}
		out = append(out, regexp.MustCompile(`(?i)`+q))
	}
	return out
}

// Extract runs priority, project and tag detection over text in a single
// deterministic pass.
func Extract(text string) Result {
	res := Result{Priority: model.PriorityMedium}

	p, span := detectPriority(text)
	if span != "" {
		res.Priority = p
		res.Spans = append(res.Spans, span)
	}

	if project, span := detectProject(text); project != "" {
		res.Project = project
		res.Spans = append(res.Spans, span)
	}

	seen := map[string]bool{}
	for _, m := range tagRE.FindAllStringSubmatch(text, -1) {
		res.Spans = append(res.Spans, m[0])
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			res.Tags = append(res.Tags, tag)
		}
	}
	sort.Strings(res.Tags)

	return res
}

func detectPriority(text string) (model.Priority, string) {
	for _, tier := range priorityTiers {
		for _, re := range tier.patterns {
			if loc := re.FindStringIndex(text); loc != nil {
				return tier.priority, text[loc[0]:loc[1]]
			}
		}
	}
	return model.PriorityMedium, ""
}

// detectProject finds "for|in <words>" and returns the capitalized phrase
// and the matched span including the lead word.
func detectProject(text string) (string, string) {
	for _, loc := range projectLeadRE.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		var words []string
		end := 0
		for _, tok := range strings.Fields(rest) {
			word := strings.TrimRight(tok, ".,;:!?)")
			stop := word != tok
			if word == "" || strings.HasPrefix(word, "#") || projectTerminators[strings.ToLower(word)] || !unicode.IsLetter(firstRune(word)) {
				break
			}
			words = append(words, word)
			end = strings.Index(rest[end:], word) + end + len(word)
			if stop {
				break
			}
		}
		if len(words) == 0 {
			continue
		}
		return capitalize(strings.Join(words, " ")), text[loc[0] : loc[1]+end]
	}
	return "", ""
}

// Clean removes spans and stop words from text, collapsing whitespace and
// trimming punctuation. An empty result returns the original text trimmed.
func Clean(text string, spans []string) string {
	out := text
	for _, s := range spans {
		if s == "" {
			continue
		}
		out = strings.Replace(out, s, " ", 1)
	}

	words := strings.Fields(out)
	kept := words[:0]
	for _, w := range words {
		if isStopWord(strings.Trim(w, ".,;:!?")) {
			continue
		}
		kept = append(kept, w)
	}
	out = strings.Join(kept, " ")
	out = spaceRE.ReplaceAllString(out, " ")
	out = strings.TrimFunc(out, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if out == "" {
		return strings.TrimSpace(text)
	}
	return out
}

func isStopWord(w string) bool {
	lw := strings.ToLower(w)
	for _, s := range StopWords {
		if lw == s {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
