// Package trigger classifies a reaction emoji or text token into a karma
// sign. Sets are fixed and loaded once at package init, mirroring the
// upstream bot's karmic_triggers table.
package trigger

import "strings"

// Sign is the classified direction of a karma-changing token.
type Sign int

const (
	Neutral  Sign = 0
	Positive Sign = 1
	Negative Sign = -1
)

var positiveEmoji = map[string]struct{}{
	"👍": {}, "🙏": {}, "🤝": {}, "👏": {}, "💯": {}, "🏆": {},
	"😍": {}, "🤩": {}, "🔥": {}, "💥": {}, "❤‍🔥": {}, "❤": {},
	"📝": {}, "✍": {},
}

var negativeEmoji = map[string]struct{}{
	"👎": {}, "💔": {}, "🤮": {}, "💩": {},
}

var positiveWords = map[string]struct{}{
	"+": {},
	"спасибо": {}, "спс": {}, "спасибочки": {}, "спасибки": {},
	"благодарю": {}, "пасиба": {}, "пасеба": {}, "посеба": {},
	"благодарочка": {}, "thx": {}, "мерси": {}, "выручил": {},
	"сяп": {}, "сяб": {}, "сенк": {}, "сенкс": {}, "сяпки": {},
	"сябки": {}, "сенью": {}, "благодарствую": {}, "thank": {},
	"thanks": {}, "класс": {},
}

var negativeWords = map[string]struct{}{
	"-": {},
}

// Classify maps an emoji or lowercased word token to its karma sign.
// Tokens that appear in neither set return Neutral.
func Classify(token string) Sign {
	if _, ok := positiveEmoji[token]; ok {
		return Positive
	}
	if _, ok := negativeEmoji[token]; ok {
		return Negative
	}
	lower := strings.ToLower(strings.TrimSpace(token))
	if _, ok := positiveWords[lower]; ok {
		return Positive
	}
	if _, ok := negativeWords[lower]; ok {
		return Negative
	}
	return Neutral
}

// SumSigns resolves added/removed reaction sets into a net sign per §4.8:
// added reactions contribute their classified sign, removed reactions
// contribute the negation of their classified sign, and the result is the
// sum. A zero sum (including an empty input) means the event is ignored.
func SumSigns(added, removed []string) int {
	total := 0
	for _, tok := range added {
		total += int(Classify(tok))
	}
	for _, tok := range removed {
		total -= int(Classify(tok))
	}
	return total
}
