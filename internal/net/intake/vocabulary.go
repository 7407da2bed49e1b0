package intake

import (
	"errors"
	"strings"

	"palm-pilots/server/internal/sim"
)

// ErrUnrecognizedCommand is returned for words outside the vocabulary. Callers
// drop such messages without logging them.
var ErrUnrecognizedCommand = errors.New("intake: unrecognized command")

// DefaultAliases maps words the voice front-end emits onto the vocabulary.
var DefaultAliases = map[string]string{
	"REVERT": "STOP",
}

var baseWords = map[string]sim.CommandType{
	"MOVE":  sim.CommandMove,
	"STOP":  sim.CommandStop,
	"SHOOT": sim.CommandShoot,
}

var turnWords = map[string]sim.CommandType{
	"LEFT":  sim.CommandTurnLeft,
	"RIGHT": sim.CommandTurnRight,
}

// Vocabulary maps command words to command types.
type Vocabulary struct {
	words   map[string]sim.CommandType
	aliases map[string]string
}

// NewVocabulary builds the vocabulary for a simulation. LEFT and RIGHT are only
// known when turning is supported. Alias keys and targets are upper-cased;
// an alias pointing outside the vocabulary is ignored.
func NewVocabulary(supportsTurning bool, aliases map[string]string) *Vocabulary {
	v := &Vocabulary{
		words:   make(map[string]sim.CommandType, len(baseWords)+len(turnWords)),
		aliases: make(map[string]string, len(aliases)),
	}
	for word, cmd := range baseWords {
		v.words[word] = cmd
	}
	if supportsTurning {
		for word, cmd := range turnWords {
			v.words[word] = cmd
		}
	}
	for from, to := range aliases {
		from = normalizeWord(from)
		to = normalizeWord(to)
		if _, ok := v.words[to]; !ok || from == "" {
			continue
		}
		v.aliases[from] = to
	}
	return v
}

// Resolve maps a raw command word to its type.
func (v *Vocabulary) Resolve(word string) (sim.CommandType, error) {
	word = normalizeWord(word)
	if target, ok := v.aliases[word]; ok {
		word = target
	}
	cmd, ok := v.words[word]
	if !ok {
		return "", ErrUnrecognizedCommand
	}
	return cmd, nil
}

// Words lists the accepted words, aliases included.
func (v *Vocabulary) Words() []string {
	out := make([]string, 0, len(v.words)+len(v.aliases))
	for word := range v.words {
		out = append(out, word)
	}
	for alias := range v.aliases {
		out = append(out, alias)
	}
	return out
}

func normalizeWord(word string) string {
	return strings.ToUpper(strings.TrimSpace(word))
}
