package script

import (
	"fmt"

	"github.com/nornic-labs/boltkit/pkg/packstream"
)

// Player walks a Script's Lines in order, matching incoming client
// messages against ClientMessageLine expectations and handing back the
// server Lines queued in response. It is not safe for concurrent use; each
// accepted connection gets its own Player.
type Player struct {
	script *Script
	cursor int
}

// NewPlayer starts a fresh walk through script from its first line.
func NewPlayer(s *Script) *Player {
	return &Player{script: s}
}

// Done reports whether every line in the script has been consumed.
func (p *Player) Done() bool {
	return p.cursor >= len(p.script.Lines)
}

// Match checks an incoming client message (by tag name and decoded fields)
// against the next ClientMessageLine, skipping over any immediately queued
// server directives only after a successful match. It returns the
// consecutive server Lines to act on (responses, sleeps, raw bytes, exits)
// up to the next ClientMessageLine or end of script.
//
// If the incoming message's name is in the script's AUTO set, Match
// returns (nil, true, nil): the caller should synthesize a canned reply
// via Script.AutoReply instead of consuming a script line.
func (p *Player) Match(tagName string, fields []any) (responses []Line, auto bool, err error) {
	if p.script.IsAuto(tagName) {
		return nil, true, nil
	}
	if p.Done() {
		return nil, false, fmt.Errorf("%w: received %s after script end", ErrExhausted, tagName)
	}
	line, ok := p.script.Lines[p.cursor].(ClientMessageLine)
	if !ok {
		return nil, false, &MismatchError{
			LineNo:   p.script.Lines[p.cursor].LineNo(),
			Expected: p.script.Lines[p.cursor].String(),
			Got:      fmt.Sprintf("C: %s %s", tagName, formatFields(fields)),
		}
	}
	if line.TagName != tagName || !fieldsEqual(line.Fields, fields) {
		return nil, false, &MismatchError{
			LineNo:   line.LineNo(),
			Expected: line.String(),
			Got:      fmt.Sprintf("C: %s %s", tagName, formatFields(fields)),
		}
	}
	p.cursor++

	for p.cursor < len(p.script.Lines) {
		if _, isClient := p.script.Lines[p.cursor].(ClientMessageLine); isClient {
			break
		}
		responses = append(responses, p.script.Lines[p.cursor])
		p.cursor++
	}
	return responses, false, nil
}

func fieldsEqual(expected, got []any) bool {
	if len(expected) != len(got) {
		return false
	}
	for i := range expected {
		if !packstream.Equal(expected[i], got[i]) {
			return false
		}
	}
	return true
}
