package dispatch

import (
	"regexp"
	"strings"
	"unicode"
)

var researchKeywords = []string{
	"research", "analyze", "analyse", "investigate", "look up", "lookup",
	"tell me about", "find out about", "info on", "information on",
	"information about",
}

var smallTalk = map[string]bool{
	"hi": true, "hello": true, "hey": true, "help": true, "thanks": true,
	"thank you": true, "ok": true, "okay": true, "yes": true, "no": true,
}

var companyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:please\s+|can you\s+|could you\s+)?(?:research|analy[sz]e|investigate|profile|prospect)\s+(.+)$`),
	regexp.MustCompile(`(?i)^(?:please\s+)?look\s*up\s+(.+)$`),
	regexp.MustCompile(`(?i)^(?:please\s+|can you\s+)?(?:tell me|find out)\s+about\s+(.+)$`),
	regexp.MustCompile(`(?i)^(?:info|information)\s+(?:on|about)\s+(.+)$`),
	regexp.MustCompile(`(?i)^what\s+(?:do you know|can you find)\s+about\s+(.+)$`),
}

// IsResearchQuery reports whether free text asks for research on a company.
// Text naming a research verb qualifies, and so does a short capitalized
// phrase that reads like a bare company name.
func IsResearchQuery(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	lower := strings.ToLower(t)
	if smallTalk[strings.TrimRight(lower, ".!? ")] {
		return false
	}
	for _, k := range researchKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}

	words := strings.Fields(t)
	if len(words) > 4 || strings.ContainsAny(t, "?!") {
		return false
	}
	first := []rune(words[0])[0]
	return unicode.IsUpper(first) || unicode.IsDigit(first)
}

// ExtractCompanyName pulls the company out of a research query, falling back
// to the whole trimmed text.
func ExtractCompanyName(text string) string {
	t := strings.TrimSpace(text)
	for _, re := range companyPatterns {
		if m := re.FindStringSubmatch(t); m != nil {
			if name := cleanCompany(m[1]); name != "" {
				return name
			}
		}
	}
	return cleanCompany(t)
}

func cleanCompany(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".?! ")
	s = strings.Trim(s, `"'`)
	for _, prefix := range []string{"the company ", "company "} {
		if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = s[len(prefix):]
		}
	}
	return strings.TrimSpace(s)
}
