// Package content holds the pure text transforms applied to message
// content before it reaches the search index, the model context, or the
// memory synthesizer. The same transforms run in all three places so raw
// media payloads never travel further than the message row they arrived in.
package content

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"assistberry/internal/models"
)

const (
	// PlaceholderGenerated replaces inline base64 media fragments when a
	// message is projected into the search index or merged into memory.
	PlaceholderGenerated = "[Image Generated]"

	// PlaceholderHistory replaces the entire content of a prior turn that
	// carried inline media; the model never re-receives those bytes.
	PlaceholderHistory = "[Image/File attached by user]"
)

// inlineMediaPattern matches markdown image fragments embedding a base64
// data URI: ![...](data:image/...;base64,...).
var inlineMediaPattern = regexp.MustCompile(`!\[[^\]]*\]\(data:image/[^;)]+;base64,[^)]*\)`)

// StripInlineMedia replaces every inline base64 media fragment with
// PlaceholderGenerated. Idempotent: the placeholder does not match the
// pattern, so applying it twice yields the same result as once.
func StripInlineMedia(s string) string {
	return inlineMediaPattern.ReplaceAllString(s, PlaceholderGenerated)
}

// HasInlineMedia reports whether content carries an inline base64 media
// marker. It is deliberately looser than the strip pattern: any content
// mentioning a base64 data image is withheld from the model context
// wholesale.
func HasInlineMedia(s string) bool {
	return strings.Contains(s, "data:image") && strings.Contains(s, "base64")
}

// AttachmentPlaceholder derives a deterministic, content-addressed
// placeholder for an attachment: same bytes and media type, same
// placeholder. Stored in place of the raw payload when a turn arrives
// with attachments and no text.
func AttachmentPlaceholder(att models.Attachment) string {
	sum := sha256.Sum256(att.Data)
	return fmt.Sprintf("[Attachment %s %s %dB]", hex.EncodeToString(sum[:])[:12], att.MIMEType, len(att.Data))
}

// DataURI renders an attachment as the markdown fragment persisted for
// generated images.
func DataURI(att models.Attachment) string {
	return fmt.Sprintf("![Generated Image](data:%s;base64,%s)", att.MIMEType, base64.StdEncoding.EncodeToString(att.Data))
}
