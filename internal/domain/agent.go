package domain

import "strings"

// BlockKind tags a ReplyBlock. BlockUnknown covers every backend type this
// bridge does not render; those blocks are skipped.
type BlockKind int

const (
	BlockUnknown BlockKind = iota
	BlockText
	BlockImage
	BlockAudio
)

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockImage:
		return "image"
	case BlockAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ReplyBlock is one unit of the agent's reply.
type ReplyBlock struct {
	Kind BlockKind
	Text string // BlockText: flattened body
	URL  string // BlockImage, BlockAudio
	Type string // backend type name as received
}

func TextBlock(body string) ReplyBlock { return ReplyBlock{Kind: BlockText, Text: body, Type: "text"} }
func ImageBlock(url string) ReplyBlock { return ReplyBlock{Kind: BlockImage, URL: url, Type: "image"} }
func AudioBlock(url string) ReplyBlock { return ReplyBlock{Kind: BlockAudio, URL: url, Type: "audio"} }

type ChoiceItem struct {
	Label string
}

// ChoicePrompt asks the user to pick one of Items.
type ChoicePrompt struct {
	Kind  string
	Items []ChoiceItem
}

// IsChoice reports whether the prompt is a choice input. Typebot names the
// kind "choice input"; older revisions send "choice".
func (p *ChoicePrompt) IsChoice() bool {
	if p == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(p.Kind)) {
	case "choice", "choice input":
		return true
	}
	return false
}

// AgentResponse is the decoded reply of the agent backend.
type AgentResponse struct {
	Messages []ReplyBlock
	Input    *ChoicePrompt
}
