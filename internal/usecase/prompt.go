package usecase

import (
	"fmt"
	"strings"

	"search-agent/internal/domain"
)

const (
	noResultsMarker   = "No search results found."
	searchErrorPrefix = "Error during web search: "
	apologyPrefix     = "Sorry, I couldn't synthesize an answer: "
)

func refinementPrompt(query string) string {
	return fmt.Sprintf(
		"Based on the conversation history, what is the most concise and effective search query to find information for \"%s\"? Provide only the search query, nothing else.",
		query,
	)
}

func synthesisPrompt(resultsContext, query string) string {
	return fmt.Sprintf(
		"Given the following search results:\n\n%s\n\nBased on these results and the user's original query \"%s\", provide a concise and helpful answer. "+
			"If the results are insufficient, state that you cannot find a definitive answer. Do not make up information. "+
			"Always cite sources by their [number] if available.",
		resultsContext, query,
	)
}

// formatResults renders results as the numbered block the synthesis prompt
// cites from. Numbering starts at 1.
func formatResults(results []domain.SearchResult) string {
	if len(results) == 0 {
		return noResultsMarker
	}
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		blocks = append(blocks, fmt.Sprintf("[%d] Title: %s\nLink: %s\nSnippet: %s", i+1, r.Title, r.Link, r.Snippet))
	}
	return "Search Results:\n" + strings.Join(blocks, "\n\n")
}

func searchErrorMarker(err error) string {
	return searchErrorPrefix + err.Error()
}

func apology(err error) string {
	return apologyPrefix + err.Error()
}

// withInstruction returns window plus a trailing user instruction. window is
// not modified.
func withInstruction(window []domain.Message, instruction string) []domain.Message {
	msgs := make([]domain.Message, 0, len(window)+1)
	msgs = append(msgs, window...)
	return append(msgs, domain.NewTextMessage(domain.RoleUser, instruction))
}

// cleanRefinedQuery trims whitespace and one pair of wrapping quotes.
func cleanRefinedQuery(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, "'", "`"} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = strings.TrimSpace(s[1 : len(s)-1])
			break
		}
	}
	return s
}
