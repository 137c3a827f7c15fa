package typebot

import (
	"encoding/json"
	"fmt"
	"strings"

	"zapbot/internal/domain"
)

type wireResponse struct {
	Messages []wireMessage `json:"messages"`
	Input    *wireInput    `json:"input,omitempty"`
}

type wireMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type wireInput struct {
	Type  string     `json:"type"`
	Items []wireItem `json:"items"`
}

type wireItem struct {
	Content json.RawMessage `json:"content"`
}

type textContent struct {
	RichText  []RichNode `json:"richText"`
	Markdown  string     `json:"markdown,omitempty"`
	PlainText string     `json:"plainText,omitempty"`
}

type mediaContent struct {
	URL string `json:"url"`
}

// RichNode is a node of a Typebot rich-text document. Leaves carry Text;
// elements carry Children.
type RichNode struct {
	Type     string     `json:"type,omitempty"`
	Text     string     `json:"text,omitempty"`
	Children []RichNode `json:"children,omitempty"`
}

// FlattenRichText renders a rich-text document as plain text: one line per
// top-level node, each line the in-order concatenation of its text runs.
func FlattenRichText(nodes []RichNode) string {
	lines := make([]string, len(nodes))
	for i, n := range nodes {
		var sb strings.Builder
		n.appendRuns(&sb)
		lines[i] = sb.String()
	}
	return strings.Join(lines, "\n")
}

func (n RichNode) appendRuns(sb *strings.Builder) {
	sb.WriteString(n.Text)
	for _, c := range n.Children {
		c.appendRuns(sb)
	}
}

// DecodeResponse parses a backend reply body. Blocks of unknown type, and
// known blocks whose content cannot be parsed, become domain.BlockUnknown.
func DecodeResponse(data []byte) (*domain.AgentResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}

	resp := &domain.AgentResponse{
		Messages: make([]domain.ReplyBlock, 0, len(wire.Messages)),
	}
	for _, m := range wire.Messages {
		resp.Messages = append(resp.Messages, decodeBlock(m))
	}

	if wire.Input != nil {
		prompt := &domain.ChoicePrompt{Kind: wire.Input.Type}
		for _, item := range wire.Input.Items {
			var label string
			if err := json.Unmarshal(item.Content, &label); err != nil {
				continue
			}
			prompt.Items = append(prompt.Items, domain.ChoiceItem{Label: label})
		}
		resp.Input = prompt
	}
	return resp, nil
}

func decodeBlock(m wireMessage) domain.ReplyBlock {
	unknown := domain.ReplyBlock{Kind: domain.BlockUnknown, Type: m.Type}

	switch m.Type {
	case "text":
		var c textContent
		if err := json.Unmarshal(m.Content, &c); err != nil {
			return unknown
		}
		body := FlattenRichText(c.RichText)
		if len(c.RichText) == 0 {
			body = c.Markdown
			if body == "" {
				body = c.PlainText
			}
		}
		return domain.TextBlock(body)
	case "image", "audio":
		var c mediaContent
		if err := json.Unmarshal(m.Content, &c); err != nil || c.URL == "" {
			return unknown
		}
		if m.Type == "image" {
			return domain.ImageBlock(c.URL)
		}
		return domain.AudioBlock(c.URL)
	default:
		return unknown
	}
}
