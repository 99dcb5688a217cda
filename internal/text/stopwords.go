package text

// stopWords are functional English words that carry no ranking signal.
// Checked against the lower-cased token before stemming.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "any": true, "can": true,
	"had": true, "her": true, "was": true, "one": true, "our": true,
	"out": true, "has": true, "him": true, "his": true, "how": true,
	"its": true, "may": true, "new": true, "now": true, "old": true,
	"see": true, "two": true, "who": true, "did": true, "get": true,
	"she": true, "too": true, "use": true, "this": true, "that": true,
	"with": true, "from": true, "your": true, "have": true, "more": true,
	"will": true, "what": true, "when": true, "where": true, "which": true,
	"their": true, "about": true, "would": true, "there": true, "could": true,
	"other": true, "into": true, "than": true, "then": true, "them": true,
	"these": true, "some": true, "been": true, "were": true, "does": true,
	"doing": true, "during": true, "each": true, "such": true, "only": true,
	"over": true, "very": true, "just": true, "also": true, "because": true,
	"should": true, "between": true, "both": true, "they": true, "being": true,
	"again": true, "after": true, "before": true, "here": true, "most": true,
	"same": true, "while": true, "why": true,
}
