// Package challenge issues and arbitrates verification challenges for new
// group members.
package challenge

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/wardenbot/warden/internal/database/types"
)

// Content is the generated material for one challenge: the question shown to
// the member, the expected answer, and the selectable options where the
// challenge is multiple choice.
type Content struct {
	Type     types.ChallengeType
	Question string
	Answer   string
	Options  []string
}

// buttonAnswer is the fixed accept token for the trivial button challenge.
const buttonAnswer = "verify"

// emojiAnimals, emojiFruits and emojiObjects are the selection pools for the
// emoji challenge. One pool is picked per challenge, one correct emoji among
// three decoys.
var (
	emojiAnimals = []string{
		"🐶", "🐱", "🐭", "🐰", "🦊", "🐻", "🐼", "🐨", "🦁", "🐯",
		"🐮", "🐷", "🐸", "🐵", "🦄", "🐝", "🦋", "🐢", "🐍", "🦎",
		"🦀", "🐙", "🦈", "🐬", "🐳",
	}
	emojiFruits = []string{
		"🍎", "🍊", "🍋", "🍌", "🍉", "🍇", "🍓", "🍑", "🍍", "🥭", "🍒", "🥝",
	}
	emojiObjects = []string{
		"⭐", "❤️", "🔥", "💧", "🌈", "☀️", "🌙", "⚡", "🎵", "🎈",
	}
)

// mathOperator pairs a display symbol with its evaluation.
type mathOperator struct {
	symbol string
	apply  func(a, b int) int
}

var mathOperators = []mathOperator{
	{"+", func(a, b int) int { return a + b }},
	{"-", func(a, b int) int { return a - b }},
	{"×", func(a, b int) int { return a * b }},
}

// MathDifficulty selects the operand range and operator set for math
// challenges.
type MathDifficulty string

const (
	// MathEasy uses single-digit addition and subtraction.
	MathEasy MathDifficulty = "easy"
	// MathMedium uses double-digit addition and subtraction.
	MathMedium MathDifficulty = "medium"
	// MathHard adds multiplication of small operands.
	MathHard MathDifficulty = "hard"
)

// Generate creates challenge content for the given type. Unknown types fall
// back to the button challenge.
func Generate(challengeType types.ChallengeType) *Content {
	switch challengeType {
	case types.ChallengeTypeMath:
		return GenerateMath(MathEasy)
	case types.ChallengeTypeEmoji:
		return generateEmoji()
	case types.ChallengeTypePortal:
		return generatePortal()
	case types.ChallengeTypeButton:
		return generateButton()
	default:
		return generateButton()
	}
}

// generateButton creates the trivial accept challenge. No secret involved.
func generateButton() *Content {
	return &Content{
		Type:   types.ChallengeTypeButton,
		Answer: buttonAnswer,
	}
}

// GenerateMath creates an arithmetic question with four answer options.
// Subtraction operands are swapped so the result is never negative.
func GenerateMath(difficulty MathDifficulty) *Content {
	var (
		num1, num2 int
		op         mathOperator
	)

	switch difficulty {
	case MathMedium:
		num1 = rand.IntN(41) + 10
		num2 = rand.IntN(20) + 1
		op = mathOperators[rand.IntN(2)]
	case MathHard:
		num1 = rand.IntN(11) + 2
		num2 = rand.IntN(11) + 2
		op = mathOperators[rand.IntN(len(mathOperators))]
	case MathEasy:
		fallthrough
	default:
		num1 = rand.IntN(10) + 1
		num2 = rand.IntN(10) + 1
		op = mathOperators[rand.IntN(2)]
	}

	if op.symbol == "-" && num2 > num1 {
		num1, num2 = num2, num1
	}

	answer := op.apply(num1, num2)

	return &Content{
		Type:     types.ChallengeTypeMath,
		Question: strconv.Itoa(num1) + " " + op.symbol + " " + strconv.Itoa(num2),
		Answer:   strconv.Itoa(answer),
		Options:  mathOptions(answer),
	}
}

// mathOptions builds four shuffled choices including the correct answer and
// plausible near misses.
func mathOptions(answer int) []string {
	options := []string{strconv.Itoa(answer)}
	used := map[int]bool{answer: true}

	for len(options) < 4 {
		offset := (rand.IntN(5) + 1)
		if rand.IntN(2) == 0 {
			offset = -offset
		}

		wrong := answer + offset
		if wrong < 0 || used[wrong] {
			continue
		}

		used[wrong] = true
		options = append(options, strconv.Itoa(wrong))
	}

	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return options
}

// generateEmoji picks one correct emoji and three decoys from a random pool.
func generateEmoji() *Content {
	pools := [][]string{emojiAnimals, emojiFruits, emojiObjects}
	pool := pools[rand.IntN(len(pools))]

	picks := rand.Perm(len(pool))[:4]
	correct := pool[picks[0]]

	options := make([]string, 0, len(picks))
	for _, idx := range picks {
		options = append(options, pool[idx])
	}

	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return &Content{
		Type:     types.ChallengeTypeEmoji,
		Question: correct,
		Answer:   correct,
		Options:  options,
	}
}

// generatePortal creates a single-use opaque token redeemed by the external
// web collaborator.
func generatePortal() *Content {
	return &Content{
		Type:   types.ChallengeTypePortal,
		Answer: uuid.New().String(),
	}
}

// AnswerMatches compares a submitted answer against the expected one.
// Comparison is trimmed and case-insensitive; this gates UX, not a secret.
func AnswerMatches(expected, submitted string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(submitted))
}
