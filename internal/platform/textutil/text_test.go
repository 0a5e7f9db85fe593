package textutil

import (
	"net/url"
	"testing"
)

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ayesha@Example.COM "); got != "ayesha@example.com" {
		t.Fatalf("unexpected email %q", got)
	}
}

func TestNormalizeStringMap(t *testing.T) {
	got := NormalizeStringMap(map[string]string{
		" order_id ": " ord_1 ",
		"":           "dropped",
		"Sig":        "AbC",
	})
	if len(got) != 2 || got["order_id"] != "ord_1" || got["Sig"] != "AbC" {
		t.Fatalf("unexpected map %v", got)
	}
	if NormalizeStringMap(map[string]string{" ": "x"}) != nil {
		t.Fatalf("expected nil when every key is blank")
	}
	if NormalizeStringMap(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestFlattenValuesKeepsFirstValue(t *testing.T) {
	got := FlattenValues(url.Values{
		"tracker": {"trk_1", "trk_2"},
		"empty":   {},
		"sig":     {" abc "},
	})
	if len(got) != 2 || got["tracker"] != "trk_1" || got["sig"] != "abc" {
		t.Fatalf("unexpected values %v", got)
	}
}
