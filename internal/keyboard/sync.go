package keyboard

import (
	"regexp"
	"unicode/utf8"

	"github.com/airenas/go-app/pkg/goapp"
)

// enter as the trailing word, optionally with punctuation/whitespace after it
var enterCmdRe = regexp.MustCompile(`(?i)\s*\benter\b[[:punct:]\s]*$`)

// Synchronizer keeps the text rendered by the hardware equal to the latest
// transcript using the minimum number of key operations. It tracks only
// characters it typed itself and never backspaces beyond them.
type Synchronizer struct {
	hw      Hardware
	current []rune
}

func NewSynchronizer(hw Hardware) *Synchronizer {
	return &Synchronizer{hw: hw}
}

// Current returns the text the synchronizer believes is on screen.
func (s *Synchronizer) Current() string {
	return string(s.current)
}

// Update diffs the new transcript against the tracked text: backspace the
// changed tail, type the new one. Prefix extensions cost no backspaces.
// On a hardware failure the tracked text reflects the operations already done.
func (s *Synchronizer) Update(newTranscript string) error {
	goapp.Log.Debug().Str("from", string(s.current)).Str("to", newTranscript).Msg("update")

	target := []rune(newTranscript)
	l := 0
	for l < len(s.current) && l < len(target) && s.current[l] == target[l] {
		l++
	}
	if err := s.backspaceTo(l); err != nil {
		return err
	}
	if l < len(target) {
		if err := s.hw.TypeText(string(target[l:])); err != nil {
			return err
		}
		s.current = append(s.current, target[l:]...)
	}
	return nil
}

// Finalize ends the turn. A trailing spoken "enter" command is erased and
// replaced by a single enter key press. The tracked text is always cleared,
// the next turn starts from scratch.
func (s *Synchronizer) Finalize() error {
	txt := string(s.current)
	goapp.Log.Debug().Str("text", txt).Msg("finalize")

	if loc := enterCmdRe.FindStringIndex(txt); loc != nil {
		keep := utf8.RuneCountInString(txt[:loc[0]])
		if err := s.backspaceTo(keep); err != nil {
			return err
		}
		if err := s.hw.PressEnter(); err != nil {
			return err
		}
	}
	s.current = nil
	return nil
}

func (s *Synchronizer) backspaceTo(n int) error {
	for len(s.current) > n {
		if err := s.hw.PressBackspace(); err != nil {
			return err
		}
		s.current = s.current[:len(s.current)-1]
	}
	return nil
}
