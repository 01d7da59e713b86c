// ABOUTME: Transcript export to Markdown and HTML
// ABOUTME: Markdown is the canonical form; HTML is rendered from it with goldmark

package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Suchun-sv/LavenderSentinel/internal/conversation"
)

var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// Markdown renders a session transcript as a Markdown document.
func Markdown(snap conversation.SessionSnapshot) string {
	var b strings.Builder

	title := snap.Title
	if title == "" {
		title = "Untitled session"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Session `%s`, exported %s.\n\n", snap.ID, time.Now().Format("2006-01-02 15:04"))

	if len(snap.Context) > 0 {
		b.WriteString("## Context papers\n\n")
		for _, id := range snap.Context {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Transcript\n\n")
	for _, msg := range snap.Messages {
		switch msg.Role {
		case conversation.RoleUser:
			fmt.Fprintf(&b, "**You** (%s):\n\n%s\n\n", msg.CreatedAt.Format("15:04"), msg.Content)
		case conversation.RoleAssistant:
			fmt.Fprintf(&b, "**Assistant** (%s):\n\n%s\n\n", msg.CreatedAt.Format("15:04"), msg.Content)
			if len(msg.Citations) > 0 {
				b.WriteString("> Sources:\n")
				for i, citation := range msg.Citations {
					fmt.Fprintf(&b, "> %d. %s\n", i+1, citation)
				}
				b.WriteString("\n")
			}
		}
	}

	if len(snap.Followups) > 0 {
		b.WriteString("## Suggested follow-ups\n\n")
		for _, f := range snap.Followups {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// HTML renders a session transcript as a standalone HTML page.
func HTML(snap conversation.SessionSnapshot) (string, error) {
	md := Markdown(snap)

	var body bytes.Buffer
	if err := markdownRenderer.Convert([]byte(md), &body); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}

	title := snap.Title
	if title == "" {
		title = "Untitled session"
	}

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>%s</title>\n", htmlEscape(title))
	page.WriteString("<style>body{font-family:sans-serif;max-width:48rem;margin:2rem auto;padding:0 1rem;line-height:1.5}blockquote{color:#555;border-left:3px solid #ccc;margin-left:0;padding-left:1rem}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")

	return page.String(), nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
