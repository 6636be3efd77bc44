// tokens.go provides the token estimate used for recall budgets and the
// footers appended to read-heavy responses.
package memory

import (
	"fmt"
	"unicode/utf8"
)

// EstimateTokens approximates the token count of text with the chars/4
// heuristic. Returns 0 for empty strings and at least 1 otherwise.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := n / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// NavigationHint returns a one-line footer when results are capped by a limit.
// Returns an empty string when all results fit (showing >= total) or total is 0.
func NavigationHint(showing, total int, hint string) string {
	if total <= 0 || showing >= total {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("\nShowing %d of %d. %s", showing, total, hint)
	}
	return fmt.Sprintf("\nShowing %d of %d.", showing, total)
}

// TokenFooter returns a one-line footer with the estimated token count.
func TokenFooter(estimatedTokens int) string {
	return fmt.Sprintf("\n~%s tokens", formatNumber(estimatedTokens))
}

// BudgetFooter notes that a response was cut to fit a token budget.
func BudgetFooter(tokensUsed, budget, shown, total int) string {
	return fmt.Sprintf("\nBudget: ~%s/%s tokens used. %d of %d items shown. Increase max_tokens for more.",
		formatNumber(tokensUsed), formatNumber(budget), shown, total)
}

// formatNumber formats an integer with comma separators for readability.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
