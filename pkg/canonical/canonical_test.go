package canonical

import (
	"strings"
	"testing"
)

func TestMarshalSortsKeys(t *testing.T) {
	v := map[string]interface{}{"zebra": 1, "alpha": 2, "mid": map[string]interface{}{"y": 1, "x": 2}}

	out, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"alpha":2,"mid":{"x":2,"y":1},"zebra":1}`
	if string(out) != want {
		t.Errorf("canonical form mismatch:\n got:  %s\n want: %s", out, want)
	}
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	out, err := Marshal(map[string]string{"html": "<b>&</b>"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(out), `<`) || strings.Contains(string(out), `&`) {
		t.Errorf("HTML escaping must be disabled, got %s", out)
	}
}

func TestMarshalRespectsStructTags(t *testing.T) {
	type sample struct {
		B string `json:"b_field"`
		A int    `json:"a_field"`
		C string `json:"-"`
	}

	out, err := Marshal(sample{B: "x", A: 7, C: "hidden"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"a_field":7,"b_field":"x"}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]interface{}{"a": 1, "b": "two", "c": []int{1, 2, 3}})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := Hash(map[string]interface{}{"c": []int{1, 2, 3}, "b": "two", "a": 1})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash must be independent of insertion order: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestHashNormalizesUnicode(t *testing.T) {
	// "é" composed (U+00E9) vs decomposed (U+0065 U+0301).
	composed := "café"
	decomposed := "café"

	h1, err := Hash(map[string]string{"name": composed})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := Hash(map[string]string{"name": decomposed})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("NFC normalization must make equivalent text hash equal")
	}
}

func TestTextNormalizes(t *testing.T) {
	if Text("café") != "café" {
		t.Errorf("Text must return NFC form")
	}
}

func TestMarshalIntegerFormatting(t *testing.T) {
	// Whole floats encode without a trailing ".0" under ES6 rules.
	out, err := Marshal(map[string]float64{"cash": 500000.0})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"cash":500000}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}
