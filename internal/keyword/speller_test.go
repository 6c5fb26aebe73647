package keyword

import (
	"reflect"
	"testing"
)

func testDictionary() *Dictionary {
	d := NewDictionary()
	for _, c := range []string{
		"A boat on the lake",
		"Boats in the harbor, boat after boat",
		"A goat on a hill",
		"Sunset over the mountain",
		"Mountain lake at dawn",
	} {
		d.Add(c)
	}
	return d
}

func TestDictionary(t *testing.T) {
	d := testDictionary()
	if got := d.Frequency("boat"); got != 2 {
		t.Errorf("Frequency(boat) = %d, want 2 (counted once per caption)", got)
	}
	if got := d.Frequency("harbor"); got != 1 {
		t.Errorf("Frequency(harbor) = %d, want 1", got)
	}
	if got := d.Frequency("Boat"); got != 0 {
		t.Errorf("terms are stored lowercase, got %d for Boat", got)
	}
	terms := d.Terms()
	if len(terms) != d.Len() {
		t.Fatalf("Terms() has %d entries, Len() = %d", len(terms), d.Len())
	}
	for i := 1; i < len(terms); i++ {
		if terms[i-1] >= terms[i] {
			t.Fatalf("Terms() not sorted: %v", terms)
		}
	}
}

func TestSpellerSuggest(t *testing.T) {
	s := NewSpeller(testDictionary())

	if got := s.Suggest("baot"); len(got) == 0 || got[0] != "boat" {
		t.Errorf("Suggest(baot) = %v, want boat first", got)
	}
	if got := s.Suggest("boat"); got != nil {
		t.Errorf("known term should get no suggestions, got %v", got)
	}
	if got := s.Suggest("at"); got != nil {
		t.Errorf("short term should not be corrected, got %v", got)
	}
	if got := s.Suggest("xylophone"); len(got) != 0 {
		t.Errorf("unrelated term got %v", got)
	}
	// boat and goat are both one edit from "moat"; boat is more frequent.
	if got := s.Suggest("moat"); len(got) < 2 || got[0] != "boat" || got[1] != "goat" {
		t.Errorf("Suggest(moat) = %v, want [boat goat ...]", got)
	}
}

func TestSpellerOptions(t *testing.T) {
	s := NewSpeller(testDictionary(), WithMaxSuggestions(1), WithMaxDistance(1))
	if got := s.Suggest("moat"); !reflect.DeepEqual(got, []string{"boat"}) {
		t.Errorf("Suggest(moat) = %v, want [boat]", got)
	}
	if got := s.Suggest("mauntian"); got != nil {
		t.Errorf("two edits should exceed max distance 1, got %v", got)
	}

	s = NewSpeller(testDictionary(), WithMinFrequency(2))
	if got := s.Suggest("moat"); !reflect.DeepEqual(got, []string{"boat"}) {
		t.Errorf("goat appears once and should be filtered, got %v", got)
	}
}

func TestSpellerCorrect(t *testing.T) {
	s := NewSpeller(testDictionary())
	got, ok := s.Correct("Sunest over the mountian")
	if !ok || got != "sunset over the mountain" {
		t.Errorf("Correct() = %q, %v", got, ok)
	}
	if _, ok := s.Correct("boat on the lake"); ok {
		t.Error("correct query should report no change")
	}
}
