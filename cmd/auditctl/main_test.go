package main

import (
	"reflect"
	"testing"
)

func TestParseMeta(t *testing.T) {
	got, err := parseMeta([]string{"name=Invoices", "size=42", "tags=[\"a\",\"b\"]", "empty="})
	if err != nil {
		t.Fatalf("parseMeta: %v", err)
	}
	want := map[string]any{
		"name":  "Invoices",
		"size":  float64(42),
		"tags":  []any{"a", "b"},
		"empty": "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestParseMeta_Invalid(t *testing.T) {
	for _, in := range []string{"novalue", "=x"} {
		if _, err := parseMeta([]string{in}); err == nil {
			t.Errorf("parseMeta(%q): expected error", in)
		}
	}
}

func TestParseMeta_None(t *testing.T) {
	got, err := parseMeta(nil)
	if err != nil || got != nil {
		t.Errorf("expected nil, got %v %v", got, err)
	}
}

func TestShortHash(t *testing.T) {
	if got := shortHash("901131d838b17aac0f7885b8"); got != "901131d838b1" {
		t.Errorf("got %q", got)
	}
	if got := shortHash("abc"); got != "abc" {
		t.Errorf("got %q", got)
	}
}
