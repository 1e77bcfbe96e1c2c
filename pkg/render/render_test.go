package render

import "testing"

func TestRenderPageRejectsBadDPI(t *testing.T) {
	if _, err := RenderPage("missing.pdf", 0, 72); err == nil {
		t.Fatalf("expected dpi range error")
	}
	if _, err := RenderPage("missing.pdf", 0, 600); err == nil {
		t.Fatalf("expected dpi range error")
	}
}

func TestRenderPageRejectsNegativePage(t *testing.T) {
	if _, err := RenderPage("missing.pdf", -1, 200); err == nil {
		t.Fatalf("expected page index error")
	}
}
