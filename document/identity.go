package document

import (
	"net/url"
	"path"
	"strings"
)

// Identity names a tracked document. URI is the stable key; Label is what
// humans see.
type Identity struct {
	URI   string
	Label string
}

// NewIdentity derives the label from the last path element of uri.
func NewIdentity(uri string) Identity {
	return Identity{URI: uri, Label: labelFor(uri)}
}

func labelFor(uri string) string {
	p := uri
	if parsed, err := url.Parse(uri); err == nil {
		switch {
		case parsed.Path != "":
			p = parsed.Path
		case parsed.Opaque != "":
			p = parsed.Opaque
		}
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return uri
	}
	return path.Base(p)
}
