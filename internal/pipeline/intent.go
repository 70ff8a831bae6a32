package pipeline

import "strings"

// Predicted intents attached to every transcript event.
const (
	IntentShopping = "shopping_candidate"
	IntentTodo     = "todo_candidate"
	IntentMemory   = "memory_candidate"
	IntentIgnore   = "ignore"
)

// intentRules are checked in order; the first rule with a keyword contained
// in the lower-cased transcript wins.
var intentRules = []struct {
	intent   string
	keywords []string
}{
	{IntentShopping, []string{"buy", "shopping"}},
	{IntentTodo, []string{"call", "todo"}},
}

// PredictIntent derives an intent from a transcript with fixed keyword rules.
// Matching is a case-insensitive substring test. Only the empty transcript is
// [IntentIgnore]; any other transcript without a keyword, whitespace
// included, is [IntentMemory]. Recognizers trim their output.
func PredictIntent(transcript string) string {
	text := strings.ToLower(transcript)
	if text == "" {
		return IntentIgnore
	}
	for _, r := range intentRules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.intent
			}
		}
	}
	return IntentMemory
}
