package content

import (
	"strings"
	"testing"

	"assistberry/internal/models"
)

func TestStripInlineMedia(t *testing.T) {
	in := "Before ![cat](data:image/png;base64,iVBORw0KGgo=) after"
	got := StripInlineMedia(in)
	if strings.Contains(got, "data:image") {
		t.Fatalf("media survived strip: %q", got)
	}
	if got != "Before "+PlaceholderGenerated+" after" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestStripInlineMediaIdempotent(t *testing.T) {
	in := "x ![a](data:image/jpeg;base64,AAAA) y ![b](data:image/png;base64,BBBB) z"
	once := StripInlineMedia(in)
	twice := StripInlineMedia(once)
	if once != twice {
		t.Fatalf("strip not idempotent: %q vs %q", once, twice)
	}
}

func TestStripInlineMediaLeavesPlainMarkdown(t *testing.T) {
	in := "A normal ![link](https://example.com/cat.png) stays."
	if got := StripInlineMedia(in); got != in {
		t.Fatalf("plain markdown changed: %q", got)
	}
}

func TestHasInlineMedia(t *testing.T) {
	if !HasInlineMedia("prefix data:image/png;base64,AAAA suffix") {
		t.Fatalf("expected detection")
	}
	if HasInlineMedia("mentions base64 but no data uri") {
		t.Fatalf("unexpected detection")
	}
}

func TestAttachmentPlaceholderDeterministic(t *testing.T) {
	att := models.Attachment{MIMEType: "image/png", Data: []byte{1, 2, 3, 4}}
	first := AttachmentPlaceholder(att)
	second := AttachmentPlaceholder(att)
	if first != second {
		t.Fatalf("placeholder not deterministic: %q vs %q", first, second)
	}
	other := AttachmentPlaceholder(models.Attachment{MIMEType: "image/png", Data: []byte{9, 9}})
	if first == other {
		t.Fatalf("distinct payloads produced identical placeholders")
	}
	if strings.Contains(first, "\x01") {
		t.Fatalf("raw bytes leaked into placeholder: %q", first)
	}
}

func TestDataURIRoundTripsThroughStrip(t *testing.T) {
	att := models.Attachment{MIMEType: "image/png", Data: []byte("pixels")}
	rendered := DataURI(att)
	if !HasInlineMedia(rendered) {
		t.Fatalf("rendered fragment not recognized as inline media: %q", rendered)
	}
	if got := StripInlineMedia(rendered); got != PlaceholderGenerated {
		t.Fatalf("expected full replacement, got %q", got)
	}
}
