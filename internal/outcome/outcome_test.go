package outcome

import (
	"errors"
	"reflect"
	"testing"
)

func TestReport_DegradedAndMissingKeys(t *testing.T) {
	var r Report
	r.Add(
		Done(ScopePhoto, "p1"),
		Skip(ScopePhoto, "p2", errors.New("not found")),
		Skip(ScopeEmoji, "1f600", errors.New("cdn 404")),
		Skip(ScopeEmoji, "1f600", errors.New("cdn 404")),
		Fail(ScopeFont, " Pacifico ", errors.New("bad css")),
	)

	if got := len(r.Degraded()); got != 4 {
		t.Fatalf("degraded = %d, want 4", got)
	}
	if got := r.Count(ScopeEmoji, Skipped); got != 2 {
		t.Fatalf("skipped emoji = %d, want 2", got)
	}
	want := []string{"1f600", "Pacifico", "p2"}
	if got := r.MissingKeys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("missing keys = %v, want %v", got, want)
	}
}

func TestReport_Merge(t *testing.T) {
	var a, b Report
	a.Add(Done(ScopeText, "layer-0"))
	b.Add(Done(ScopeText, "layer-1"), Skip(ScopePhoto, "p9", nil))
	a.Merge(b)

	if len(a.Items) != 3 {
		t.Fatalf("merged items = %d, want 3", len(a.Items))
	}
	if a.Items[2].String() != "photo p9: skipped" {
		t.Fatalf("unexpected item string %q", a.Items[2].String())
	}
}
