package sources

import (
	"fmt"
	"strings"
)

// Saved searches are often pasted from word processors, which smarten
// the quotes and silently break provider query syntax.
var curlyQuoteReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
)

func straightenQuotes(terms string) string {
	return curlyQuoteReplacer.Replace(strings.TrimSpace(terms))
}

// buildDomainQuery composes the full-text query used by the Wayback
// Machine search: terms AND language AND a domain whitelist.
func buildDomainQuery(terms, language string, domains []string) string {
	query := fmt.Sprintf("(%s)", straightenQuotes(terms))
	if language != "" {
		query += fmt.Sprintf(" AND (language:%s)", language)
	}
	if len(domains) > 0 {
		query += fmt.Sprintf(" AND (domain:(%s))", strings.Join(domains, " OR "))
	}
	return query
}
