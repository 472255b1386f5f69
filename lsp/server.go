// Package lsp hosts the workspace behind a Language Server Protocol
// connection: text synchronisation feeds the orchestrator, conversion
// diagnostics are published back and the xml2rfc.preview command opens a
// browser preview.
package lsp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	_ "github.com/tliron/commonlog/simple"

	"github.com/dhamidi/rfclive/document"
	"github.com/dhamidi/rfclive/workspace"
)

const (
	lsName = "rfclive"

	// CommandPreview opens the preview of a document. Its optional argument
	// is the document URI; the most recently edited document is used
	// otherwise.
	CommandPreview = "xml2rfc.preview"
)

var log = commonlog.GetLogger("rfclive.lsp")

// URLer is implemented by panels that can be opened in a browser.
type URLer interface {
	URL() string
}

type Server struct {
	orch        *workspace.Orchestrator
	diagnostics *Diagnostics
	handler     protocol.Handler
	server      *server.Server
	version     string

	mu     sync.Mutex
	notify glsp.NotifyFunc
	texts  map[string]string
	active string
}

func NewServer(orch *workspace.Orchestrator, diagnostics *Diagnostics, version string) *Server {
	ls := &Server{
		orch:        orch,
		diagnostics: diagnostics,
		version:     version,
		texts:       make(map[string]string),
	}

	ls.handler = protocol.Handler{
		Initialize:              ls.initialize,
		Initialized:             ls.initialized,
		Shutdown:                ls.shutdown,
		SetTrace:                ls.setTrace,
		TextDocumentDidOpen:     ls.textDocumentDidOpen,
		TextDocumentDidChange:   ls.textDocumentDidChange,
		TextDocumentDidClose:    ls.textDocumentDidClose,
		TextDocumentDidSave:     ls.textDocumentDidSave,
		WorkspaceExecuteCommand: ls.workspaceExecuteCommand,
	}

	ls.server = server.NewServer(&ls.handler, lsName, false)

	return ls
}

func (ls *Server) RunStdio() error {
	return ls.server.RunStdio()
}

func (ls *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	ls.mu.Lock()
	ls.notify = ctx.Notify
	ls.mu.Unlock()
	ls.diagnostics.bind(ctx.Notify)

	capabilities := ls.handler.CreateServerCapabilities()

	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    syncKindPtr(protocol.TextDocumentSyncKindIncremental),
		Save: &protocol.SaveOptions{
			IncludeText: boolPtr(true),
		},
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{CommandPreview},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lsName,
			Version: &ls.version,
		},
	}, nil
}

func (ls *Server) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	log.Infof("%s %s initialized", lsName, ls.version)
	return nil
}

func (ls *Server) shutdown(ctx *glsp.Context) error {
	ls.orch.Shutdown()
	return nil
}

func (ls *Server) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (ls *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	ls.update(params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (ls *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI
	ls.mu.Lock()
	text := applyChanges(ls.texts[uri], params.ContentChanges)
	ls.mu.Unlock()
	ls.update(uri, text)
	return nil
}

func (ls *Server) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	ls.mu.Lock()
	delete(ls.texts, uri)
	if ls.active == uri {
		ls.active = ""
	}
	ls.mu.Unlock()
	ls.orch.Close(uri)
	return nil
}

func (ls *Server) textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	if params.Text != nil {
		ls.update(params.TextDocument.URI, *params.Text)
	}
	return nil
}

func (ls *Server) workspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	if params.Command != CommandPreview {
		return nil, fmt.Errorf("unknown command %q", params.Command)
	}

	uri := ls.commandTarget(params.Arguments)
	if uri == "" {
		ls.showMessage(protocol.MessageTypeInfo, workspace.ErrUnknownDocument.Error())
		return nil, nil
	}

	panel, err := ls.orch.OpenPreview(uri)
	if errors.Is(err, workspace.ErrUnknownDocument) {
		ls.showMessage(protocol.MessageTypeInfo, err.Error())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if u, ok := panel.(URLer); ok {
		ls.showMessage(protocol.MessageTypeInfo, fmt.Sprintf("Preview of %s: %s", document.NewIdentity(uri).Label, u.URL()))
		return u.URL(), nil
	}
	return nil, nil
}

func (ls *Server) update(uri, text string) {
	ls.mu.Lock()
	ls.texts[uri] = text
	ls.active = uri
	ls.mu.Unlock()

	v := ls.orch.HandleUpdate(document.NewIdentity(uri), text)
	if v.SyntaxErr != nil {
		log.Debugf("%s: %s", uri, v.SyntaxErr)
	}
}

func (ls *Server) commandTarget(args []any) string {
	if len(args) > 0 {
		if uri, ok := args[0].(string); ok && uri != "" {
			return uri
		}
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.active
}

func (ls *Server) showMessage(kind protocol.MessageType, message string) {
	ls.mu.Lock()
	notify := ls.notify
	ls.mu.Unlock()
	if notify == nil {
		return
	}
	notify(protocol.ServerWindowShowMessage, protocol.ShowMessageParams{
		Type:    kind,
		Message: message,
	})
}

func boolPtr(b bool) *bool {
	return &b
}

func syncKindPtr(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind {
	return &k
}
