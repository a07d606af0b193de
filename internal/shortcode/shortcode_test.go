package shortcode

import (
	"reflect"
	"testing"
)

func TestExpand_ReplacesAllOccurrences(t *testing.T) {
	got := Expand("Hi {{client_first}}, {{client_first}}! Your job {{job}} is set.", map[string]string{
		"client_first": "Ana",
		"job":          "#42",
	})
	want := "Hi Ana, Ana! Your job #42 is set."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpand_LeavesUnknownPlaceholders(t *testing.T) {
	got := Expand("Hi {{client_first}}, see {{survey_link}}", map[string]string{"client_first": "Ana"})
	if got != "Hi Ana, see {{survey_link}}" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestExpand_EmptyValueIsAValue(t *testing.T) {
	if got := Expand("[{{x}}]", map[string]string{"x": ""}); got != "[]" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestExpand_DoesNotRescanValues(t *testing.T) {
	got := Expand("{{a}}", map[string]string{"a": "{{b}}", "b": "nope"})
	if got != "{{b}}" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestExpand_Idempotent(t *testing.T) {
	ctx := map[string]string{"client_first": "Ana", "company": "Acme Plumbing"}
	tpl := "{{client_first}}, thanks for choosing {{company}}. Reply STOP to opt out."
	once := Expand(tpl, ctx)
	if twice := Expand(once, ctx); twice != once {
		t.Fatalf("not idempotent: %q vs %q", once, twice)
	}
}

func TestExpand_Pure(t *testing.T) {
	ctx := map[string]string{"a": "1"}
	tpl := "{{a}}{{b}}"
	if Expand(tpl, ctx) != Expand(tpl, ctx) {
		t.Fatalf("expected same output")
	}
	if len(ctx) != 1 {
		t.Fatalf("ctx mutated")
	}
}

func TestPlaceholdersAndUnresolved(t *testing.T) {
	tpl := "{{a}} {{b}} {{a}} {{ c }}"
	if got := Placeholders(tpl); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected placeholders %v", got)
	}
	if got := Unresolved(tpl, map[string]string{"a": "x"}); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("unexpected unresolved %v", got)
	}
}

func TestMerge_LaterWins(t *testing.T) {
	got := Merge(map[string]string{"a": "1", "b": "2"}, map[string]string{"b": "3"})
	if got["a"] != "1" || got["b"] != "3" {
		t.Fatalf("unexpected %v", got)
	}
}
