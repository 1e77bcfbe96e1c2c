package ocr

import "testing"

func TestNormalizeText(t *testing.T) {
	if got := normalizeText("  Energia \t elétrica \n 123  "); got != "Energia elétrica 123" {
		t.Fatalf("unexpected normalization %q", got)
	}
	if got := normalizeText(" \t\n "); got != "" {
		t.Fatalf("expected empty got %q", got)
	}
}

func TestAvgConfidence(t *testing.T) {
	lines := []Line{{Text: "a", Confidence: 0.9}, {Text: "b", Confidence: 0.7}}
	got := avgConfidence(lines)
	if got < 0.79 || got > 0.81 {
		t.Fatalf("expected ~0.80 got %f", got)
	}
	if avgConfidence(nil) != 0 {
		t.Fatalf("expected 0 for no lines")
	}
}

func TestJoinLines(t *testing.T) {
	lines := []Line{{Text: "Consumo 150 kWh"}, {Text: "Total R$ 212,34"}}
	want := "Consumo 150 kWh\nTotal R$ 212,34"
	if got := joinLines(lines); got != want {
		t.Fatalf("expected %q got %q", want, got)
	}
}

func TestClampConfidence(t *testing.T) {
	if clampConfidence(-0.1) != 0 || clampConfidence(1.5) != 1 {
		t.Fatalf("clamp failed")
	}
	if clampConfidence(0.42) != 0.42 {
		t.Fatalf("clamp altered in-range value")
	}
}
