// Package agent implements the session layer over the Cody agent's
// JSON-RPC connection: initialization, chat operations and connection
// lifecycle.
package agent

import (
	"fmt"
)

// Speaker values in transcript messages.
const (
	SpeakerHuman     = "human"
	SpeakerAssistant = "assistant"
)

// ExtensionConfiguration carries the Sourcegraph credentials and
// extension settings sent with initialize.
type ExtensionConfiguration struct {
	AccessToken         string            `json:"accessToken"`
	ServerEndpoint      string            `json:"serverEndpoint"`
	Codebase            string            `json:"codebase,omitempty"`
	Proxy               string            `json:"proxy,omitempty"`
	CustomHeaders       map[string]string `json:"customHeaders,omitempty"`
	AnonymousUserID     string            `json:"anonymousUserID,omitempty"`
	Debug               bool              `json:"debug,omitempty"`
	VerboseDebug        bool              `json:"verboseDebug,omitempty"`
	CustomConfiguration map[string]any    `json:"customConfiguration,omitempty"`
}

// ClientCapabilities advertises which agent features this client can
// handle. Everything defaults to the least capable setting; the agent
// then avoids pushing interactions we cannot service.
type ClientCapabilities struct {
	Completions       string `json:"completions"`
	Chat              string `json:"chat"`
	Git               string `json:"git"`
	ProgressBars      string `json:"progressBars"`
	Edit              string `json:"edit"`
	EditWorkspace     string `json:"editWorkspace"`
	UntitledDocuments string `json:"untitledDocuments"`
	ShowDocument      string `json:"showDocument"`
	CodeLenses        string `json:"codeLenses"`
	ShowWindowMessage string `json:"showWindowMessage"`
}

// DefaultCapabilities returns the capability set for a headless client.
func DefaultCapabilities() ClientCapabilities {
	return ClientCapabilities{
		Completions:       "none",
		Chat:              "none",
		Git:               "none",
		ProgressBars:      "none",
		Edit:              "none",
		EditWorkspace:     "none",
		UntitledDocuments: "none",
		ShowDocument:      "none",
		CodeLenses:        "none",
		ShowWindowMessage: "notification",
	}
}

// ClientInfo is the initialize request payload.
type ClientInfo struct {
	Name                   string                 `json:"name"`
	Version                string                 `json:"version"`
	WorkspaceRootURI       string                 `json:"workspaceRootUri"`
	ExtensionConfiguration ExtensionConfiguration `json:"extensionConfiguration"`
	Capabilities           ClientCapabilities     `json:"capabilities"`
}

// AuthStatus is the detailed authentication state the agent may attach
// to the initialize result.
type AuthStatus struct {
	Endpoint              string `json:"endpoint"`
	IsDotCom              bool   `json:"isDotCom"`
	IsLoggedIn            bool   `json:"isLoggedIn"`
	Authenticated         bool   `json:"authenticated"`
	HasVerifiedEmail      bool   `json:"hasVerifiedEmail"`
	RequiresVerifiedEmail bool   `json:"requiresVerifiedEmail"`
	SiteHasCodyEnabled    bool   `json:"siteHasCodyEnabled"`
	SiteVersion           string `json:"siteVersion"`
	Username              string `json:"username"`
	PrimaryEmail          string `json:"primaryEmail"`
	DisplayName           string `json:"displayName,omitempty"`
	AvatarURL             string `json:"avatarURL,omitempty"`
}

// ServerInfo is the initialize result.
type ServerInfo struct {
	Name          string      `json:"name"`
	Authenticated bool        `json:"authenticated"`
	CodyEnabled   bool        `json:"codyEnabled"`
	CodyVersion   string      `json:"codyVersion"`
	AuthStatus    *AuthStatus `json:"authStatus,omitempty"`
}

// Message is one entry in a chat transcript.
type Message struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ContextFile identifies a file (and optionally a line range) the
// assistant drew on when composing a reply.
type ContextFile struct {
	Path      string
	StartLine int
	EndLine   int
}

func (f ContextFile) String() string {
	if f.EndLine > 0 {
		return fmt.Sprintf("%s:%d-%d", f.Path, f.StartLine, f.EndLine)
	}
	return f.Path
}

// SubmitItem renders the file in the shape chat/submitMessage expects
// for explicit context attachments.
func (f ContextFile) SubmitItem() any {
	item := wireContextFile{URI: wireURI{Path: f.Path}}
	if f.EndLine > 0 {
		item.Range = &wireRange{
			Start: wirePosition{Line: f.StartLine},
			End:   wirePosition{Line: f.EndLine},
		}
	}
	return item
}

// ChatReply is the parsed outcome of a chat/submitMessage exchange.
type ChatReply struct {
	Text         string
	ContextFiles []ContextFile
}

// Model describes one LLM offered by chat/models.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

// SubmitOptions tunes a chat/submitMessage request. The zero value asks
// for enhanced context, matching the agent's usual client behavior.
type SubmitOptions struct {
	NoEnhancedContext bool
	ContextFiles      []any
}

// Wire shapes below mirror the agent's webview protocol.

type submitEnvelope struct {
	ID      string        `json:"id"`
	Message submitMessage `json:"message"`
}

type submitMessage struct {
	Command            string `json:"command"`
	Text               string `json:"text"`
	SubmitType         string `json:"submitType"`
	AddEnhancedContext bool   `json:"addEnhancedContext"`
	ContextFiles       []any  `json:"contextFiles"`
}

type modelEnvelope struct {
	ID      string       `json:"id"`
	Message modelCommand `json:"message"`
}

type modelCommand struct {
	Command string `json:"command"`
	Model   string `json:"model"`
}

type restoreParams struct {
	Messages []Message `json:"messages"`
	ChatID   string    `json:"chatID"`
}

type modelsParams struct {
	ModelUsage string `json:"modelUsage"`
}

type modelsResult struct {
	Models []Model `json:"models"`
}

type wireTranscript struct {
	Type                string        `json:"type"`
	Messages            []wireMessage `json:"messages"`
	IsMessageInProgress bool          `json:"isMessageInProgress"`
	ChatID              string        `json:"chatID"`
}

type wireMessage struct {
	Speaker      string            `json:"speaker"`
	Text         string            `json:"text"`
	ContextFiles []wireContextFile `json:"contextFiles"`
}

type wireContextFile struct {
	URI   wireURI    `json:"uri"`
	Range *wireRange `json:"range"`
}

type wireURI struct {
	Path string `json:"path"`
}

type wireRange struct {
	Start wirePosition `json:"start"`
	End   wirePosition `json:"end"`
}

type wirePosition struct {
	Line int `json:"line"`
}

type debugMessageParams struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

type postMessageParams struct {
	ID      string `json:"id"`
	Message struct {
		Type                string        `json:"type"`
		IsMessageInProgress bool          `json:"isMessageInProgress"`
		Messages            []wireMessage `json:"messages"`
	} `json:"message"`
}
