package crop

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleConfig() Config {
	return Config{
		Label:        "CEMIG",
		SourceFile:   "fatura_cemig.pdf",
		Page:         1,
		Coordinates:  Rect{10, 20, 300, 400},
		DPI:          200,
		OriginalSize: Size{800, 600},
		CroppedSize:  Size{290, 380},
	}
}

func TestExportRoundTrip(t *testing.T) {
	cfg := sampleConfig()
	data, err := Export(cfg)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if back != cfg {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", cfg, back)
	}
}

func TestExportKeyOrder(t *testing.T) {
	data, err := Export(sampleConfig())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	doc := string(data)
	order := []string{`"label"`, `"source_file"`, `"page"`, `"coordinates"`, `"dpi"`, `"original_size"`, `"cropped_size"`}
	last := -1
	for _, key := range order {
		i := strings.Index(doc, key)
		if i < 0 {
			t.Fatalf("key %s missing from document:\n%s", key, doc)
		}
		if i < last {
			t.Fatalf("key %s out of order in document:\n%s", key, doc)
		}
		last = i
	}
	if !strings.Contains(doc, "\n  ") {
		t.Fatalf("document not indented:\n%s", doc)
	}
}

func TestExportIntegersStayIntegers(t *testing.T) {
	data, err := Export(sampleConfig())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["dpi"]) != "200" {
		t.Fatalf("dpi serialized as %s", raw["dpi"])
	}
	if strings.Contains(string(raw["coordinates"]), ".") {
		t.Fatalf("coordinates carry non-integer values: %s", raw["coordinates"])
	}
}

func TestExportRejectsInvalid(t *testing.T) {
	cfg := sampleConfig()
	cfg.DPI = 72
	if _, err := Export(cfg); err == nil {
		t.Fatalf("expected dpi range error")
	}
	cfg = sampleConfig()
	cfg.Coordinates = Rect{300, 400, 10, 20}
	if _, err := Export(cfg); err == nil {
		t.Fatalf("expected swapped-rect error")
	}
	cfg = sampleConfig()
	cfg.Coordinates.X2 = 9999
	if _, err := Export(cfg); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
	cfg = sampleConfig()
	cfg.CroppedSize = Size{1, 1}
	if _, err := Export(cfg); err == nil {
		t.Fatalf("expected cropped-size mismatch error")
	}
	cfg = sampleConfig()
	cfg.Page = 0
	if _, err := Export(cfg); err == nil {
		t.Fatalf("expected page error")
	}
}

func TestValidateDPI(t *testing.T) {
	if d, err := ValidateDPI(0); err != nil || d != DefaultDPI {
		t.Fatalf("expected default dpi got %d err=%v", d, err)
	}
	if _, err := ValidateDPI(99); err == nil {
		t.Fatalf("expected error for dpi below range")
	}
	if _, err := ValidateDPI(301); err == nil {
		t.Fatalf("expected error for dpi above range")
	}
	if d, err := ValidateDPI(300); err != nil || d != 300 {
		t.Fatalf("expected 300 got %d err=%v", d, err)
	}
}

func TestFilename(t *testing.T) {
	cfg := sampleConfig()
	if got := cfg.Filename(); got != "cemig_1.json" {
		t.Fatalf("expected cemig_1.json got %s", got)
	}
	cfg.Label = "Enel Distribuição SP"
	if got := cfg.Filename(); got != "enel_distribuio_sp_1.json" {
		t.Fatalf("unexpected sanitized name %s", got)
	}
	cfg.Label = "   "
	cfg.Page = 3
	if got := cfg.Filename(); got != "config_3.json" {
		t.Fatalf("expected config_3.json got %s", got)
	}
}
