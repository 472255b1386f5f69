package document

import (
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
)

// Validation is the parse-time verdict on a content snapshot.
type Validation struct {
	WellFormed   bool
	TargetSchema bool
	// Root is the local name of the document element, if one was seen.
	Root      string
	SyntaxErr *SyntaxError
}

// Eligible reports whether the snapshot may be handed to the converter.
func (v Validation) Eligible() bool {
	return v.WellFormed && v.TargetSchema
}

// SyntaxError locates the first well-formedness problem. Line is zero-based.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return e.Message
}

var entityDecl = regexp.MustCompile(`<!ENTITY\s+([^\s%]+)\s+(?:"([^"]*)"|'([^']*)'|(?:SYSTEM|PUBLIC)\b[^>]*)\s*>`)

// Validate checks that content is well-formed XML whose document element is
// named root. Internal DTD entity declarations and HTML entities are
// accepted so that typical xml2rfc sources do not trip the check.
func Validate(content, root string) Validation {
	d := xml.NewDecoder(strings.NewReader(content))
	d.Strict = true
	d.CharsetReader = charsetReader
	d.Entity = make(map[string]string, len(xml.HTMLEntity))
	for k, v := range xml.HTMLEntity {
		d.Entity[k] = v
	}

	var (
		v     Validation
		depth int
		seen  bool
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Validation{Root: v.Root, SyntaxErr: syntaxError(err, d)}
		}

		switch t := tok.(type) {
		case xml.Directive:
			declareEntities(d.Entity, string(t))
		case xml.StartElement:
			if depth == 0 {
				if seen {
					line, _ := d.InputPos()
					return Validation{Root: v.Root, SyntaxErr: &SyntaxError{Line: zeroBased(line), Message: "junk after document element"}}
				}
				seen = true
				v.Root = t.Name.Local
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(strings.TrimSpace(string(t))) > 0 {
				line, _ := d.InputPos()
				return Validation{Root: v.Root, SyntaxErr: &SyntaxError{Line: zeroBased(line), Message: "text outside document element"}}
			}
		}
	}

	if !seen {
		return Validation{SyntaxErr: &SyntaxError{Message: "no document element"}}
	}
	v.WellFormed = true
	v.TargetSchema = v.Root == root
	return v
}

// charsetReader decodes the encoding named by the XML declaration. Input
// with an unknown label is read unchanged.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	r, err := charset.NewReaderLabel(label, input)
	if err != nil {
		log.Debugf("unknown encoding %q, reading input unchanged", label)
		return input, nil
	}
	return r, nil
}

func declareEntities(entities map[string]string, directive string) {
	for _, m := range entityDecl.FindAllStringSubmatch("<!"+directive+">", -1) {
		// External entities are never resolved; an empty expansion keeps
		// references to them well-formed.
		entities[m[1]] = m[2] + m[3]
	}
}

func syntaxError(err error, d *xml.Decoder) *SyntaxError {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &SyntaxError{Line: zeroBased(se.Line), Message: se.Msg}
	}
	line, _ := d.InputPos()
	return &SyntaxError{Line: zeroBased(line), Message: err.Error()}
}

func zeroBased(line int) int {
	if line < 1 {
		return 0
	}
	return line - 1
}
