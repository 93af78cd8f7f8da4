// Package format renders aggregated profiles and posts as the plain-text
// export document, either whole or incrementally from a stream.
package format

import (
	"fmt"
	"strings"

	"github.com/jonesrussell/castflow/internal/models"
)

// Separators between document sections. The profile block ends with the heavy
// rule; posts are divided by the light one.
const (
	ProfileSeparator = "========================================"
	PostSeparator    = "----------------------------------------"
)

const timestampLayout = "2006-01-02 15:04 UTC"

// Filename returns the canonical export filename for an identity.
func Filename(fid uint64) string {
	return fmt.Sprintf("llm-%d.txt", fid)
}

// ProfileBlock renders the profile header section.
func ProfileBlock(p *models.Profile) string {
	var b strings.Builder

	if p.Handle != "" {
		fmt.Fprintf(&b, "# @%s (fid %d)\n", p.Handle, p.Fid)
	} else {
		fmt.Fprintf(&b, "# fid %d\n", p.Fid)
	}
	b.WriteString("\n")

	writeField(&b, "Display name", p.DisplayName)
	writeField(&b, "Bio", p.Bio)
	writeField(&b, "Location", p.Location)
	writeField(&b, "Homepage", p.HomepageURL)
	writeField(&b, "Avatar", p.AvatarURL)
	for _, ref := range p.CrossRefs {
		writeField(&b, crossRefLabel(ref.Network), ref.Handle)
	}

	b.WriteString("\n" + ProfileSeparator + "\n")
	return b.String()
}

// PostBlock renders one post. index is 1-based display position.
func PostBlock(index int, p *models.Post) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[%d] %s", index, p.Timestamp.UTC().Format(timestampLayout))
	if p.IsReply() {
		b.WriteString(" (reply)")
	}
	b.WriteString("\n")

	if p.IsReply() {
		if p.ParentPost != nil {
			fmt.Fprintf(&b, "> in reply to: %s\n", firstLine(p.ParentPost.Text))
		} else {
			fmt.Fprintf(&b, "> in reply to %s\n", p.Parent.Hash)
		}
	}

	if p.Text != "" {
		b.WriteString(p.Text + "\n")
	}

	if len(p.Attachments) > 0 {
		b.WriteString("Attachments:\n")
		for _, a := range p.Attachments {
			fmt.Fprintf(&b, "  - %s: %s\n", a.Kind, a.URL)
		}
	}

	if p.Reactions.Likes > 0 || p.Reactions.Recasts > 0 {
		fmt.Fprintf(&b, "Likes: %d  Recasts: %d\n", p.Reactions.Likes, p.Reactions.Recasts)
	}

	b.WriteString("\n" + PostSeparator + "\n")
	return b.String()
}

// ErrorLine renders a fatal mid-stream failure as the document's final line.
// By the time it is written the response is already committed, so the text
// body is the only channel left.
func ErrorLine(err error) string {
	return fmt.Sprintf("\n[export aborted: %v]\n", err)
}

// Bundle renders a complete bundle as one document.
func Bundle(bundle *models.Bundle) string {
	var b strings.Builder
	b.WriteString(ProfileBlock(bundle.Profile))
	for i, post := range bundle.Posts {
		b.WriteString(PostBlock(i+1, post))
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func crossRefLabel(network string) string {
	switch network {
	case "github":
		return "GitHub"
	case "twitter":
		return "Twitter"
	default:
		return network
	}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
