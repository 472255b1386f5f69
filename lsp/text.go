package lsp

import (
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// applyChanges applies didChange content changes to text in order. Ranged
// changes are addressed in UTF-16 code units.
func applyChanges(text string, changes []any) string {
	for _, change := range changes {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			text = c.Text
		case protocol.TextDocumentContentChangeEvent:
			if c.Range == nil {
				text = c.Text
				continue
			}
			start := offsetForPosition(text, c.Range.Start)
			end := offsetForPosition(text, c.Range.End)
			if end < start {
				end = start
			}
			text = text[:start] + c.Text + text[end:]
		}
	}
	return text
}

func offsetForPosition(text string, pos protocol.Position) int {
	line := protocol.UInteger(0)
	i := 0
	for i < len(text) && line < pos.Line {
		if text[i] == '\n' {
			line++
		}
		i++
	}
	if line < pos.Line {
		return len(text)
	}

	units := protocol.UInteger(0)
	for i < len(text) && text[i] != '\n' && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[i:])
		need := protocol.UInteger(1)
		if r > 0xFFFF {
			need = 2
		}
		if units+need > pos.Character {
			break
		}
		units += need
		i += size
	}
	return i
}
