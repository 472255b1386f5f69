package document

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantWell   bool
		wantTarget bool
		wantRoot   string
		wantLine   int
	}{
		{
			name:       "rfc root",
			content:    `<?xml version="1.0"?>` + "\n" + `<rfc version="3"><front><title>T</title></front></rfc>`,
			wantWell:   true,
			wantTarget: true,
			wantRoot:   "rfc",
		},
		{
			name:     "other root",
			content:  `<note><to>x</to></note>`,
			wantWell: true,
			wantRoot: "note",
		},
		{
			name:     "mismatched tags",
			content:  "<rfc>\n<front>\n</rfc>",
			wantLine: 2,
			wantRoot: "rfc",
		},
		{
			name:    "empty",
			content: "",
		},
		{
			name:     "unterminated",
			content:  "<rfc>\n<front>",
			wantRoot: "rfc",
			wantLine: 1,
		},
		{
			name:     "two roots",
			content:  "<rfc/>\n<rfc/>",
			wantRoot: "rfc",
			wantLine: 1,
		},
		{
			name:       "html entity",
			content:    `<rfc><t>a&nbsp;b</t></rfc>`,
			wantWell:   true,
			wantTarget: true,
			wantRoot:   "rfc",
		},
		{
			name: "internal subset entities",
			content: `<!DOCTYPE rfc [
  <!ENTITY rfc2119 SYSTEM "https://bib.ietf.org/public/rfc/bibxml/reference.RFC.2119.xml">
  <!ENTITY year "2024">
]>
<rfc><t>&year;</t>&rfc2119;</rfc>`,
			wantWell:   true,
			wantTarget: true,
			wantRoot:   "rfc",
		},
		{
			name:       "us-ascii declaration",
			content:    `<?xml version="1.0" encoding="US-ASCII"?>` + "\n" + `<rfc ipr="trust200902"><front><title>T</title></front></rfc>`,
			wantWell:   true,
			wantTarget: true,
			wantRoot:   "rfc",
		},
		{
			name:       "latin-1 declaration",
			content:    `<?xml version="1.0" encoding="ISO-8859-1"?>` + "\n" + "<rfc><t>caf\xe9</t></rfc>",
			wantWell:   true,
			wantTarget: true,
			wantRoot:   "rfc",
		},
		{
			name:       "unknown encoding label",
			content:    `<?xml version="1.0" encoding="x-no-such-charset"?><rfc/>`,
			wantWell:   true,
			wantTarget: true,
			wantRoot:   "rfc",
		},
		{
			name:     "undeclared entity",
			content:  "<rfc>\n<t>&undeclared;</t></rfc>",
			wantRoot: "rfc",
			wantLine: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.content, "rfc")
			if v.WellFormed != tt.wantWell {
				t.Errorf("WellFormed = %v, want %v (err %v)", v.WellFormed, tt.wantWell, v.SyntaxErr)
			}
			if v.TargetSchema != tt.wantTarget {
				t.Errorf("TargetSchema = %v, want %v", v.TargetSchema, tt.wantTarget)
			}
			if v.Root != tt.wantRoot {
				t.Errorf("Root = %q, want %q", v.Root, tt.wantRoot)
			}
			if tt.wantWell {
				if v.SyntaxErr != nil {
					t.Errorf("SyntaxErr = %v, want nil", v.SyntaxErr)
				}
				return
			}
			if v.SyntaxErr == nil {
				t.Fatal("SyntaxErr = nil, want error")
			}
			if v.SyntaxErr.Line != tt.wantLine {
				t.Errorf("SyntaxErr.Line = %d, want %d (%s)", v.SyntaxErr.Line, tt.wantLine, v.SyntaxErr.Message)
			}
		})
	}
}

func TestNewIdentity(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"file:///home/me/drafts/draft-ietf-foo-00.xml", "draft-ietf-foo-00.xml"},
		{"file:///tmp/with%20space.xml", "with space.xml"},
		{"untitled:Untitled-1", "Untitled-1"},
		{"/plain/path/doc.xml", "doc.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := NewIdentity(tt.uri).Label; got != tt.want {
				t.Errorf("NewIdentity(%q).Label = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}
