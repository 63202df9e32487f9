package match

import (
	"reflect"
	"sort"
	"testing"
)

func sortedCopy(xs []string) []string {
	out := append([]string(nil), xs...)
	sort.Strings(out)
	return out
}

func TestNormalizeTags_TrimsUppercasesDeduplicates(t *testing.T) {
	got := normalizeTags([]string{" music ", "Music", "FILM", "  ", "film"})
	want := []string{"MUSIC", "FILM"}

	if !reflect.DeepEqual(sortedCopy(got), sortedCopy(want)) {
		t.Fatalf("normalizeTags() = %v, want %v", got, want)
	}
}

func TestNormalizeTags_Idempotent(t *testing.T) {
	once := normalizeTags([]string{"music", "Music", " FILM "})
	twice := normalizeTags(once)

	if !reflect.DeepEqual(sortedCopy(once), sortedCopy(twice)) {
		t.Fatalf("normalizeTags not idempotent: once=%v twice=%v", once, twice)
	}
}

func TestNormalizeTags_Empty(t *testing.T) {
	if got := normalizeTags(nil); len(got) != 0 {
		t.Fatalf("normalizeTags(nil) = %v, want empty", got)
	}
	if got := normalizeTags([]string{"", "  "}); len(got) != 0 {
		t.Fatalf("normalizeTags(blank) = %v, want empty", got)
	}
}

func TestIntersect(t *testing.T) {
	got := intersect([]string{"MUSIC", "FILM", "ART"}, []string{"ART", "MUSIC"})
	want := []string{"MUSIC", "ART"}

	if !reflect.DeepEqual(sortedCopy(got), sortedCopy(want)) {
		t.Fatalf("intersect() = %v, want %v", got, want)
	}
}

func TestIntersect_Empty(t *testing.T) {
	if got := intersect([]string{"MUSIC"}, []string{"FILM"}); len(got) != 0 {
		t.Fatalf("intersect() = %v, want empty", got)
	}
}
