package transcript

import (
	"testing"
)

func TestReconciler_FragmentsFinalizeIntoOneEntry(t *testing.T) {
	r := NewReconciler(Limits{})

	r.AppendInput("Hel")
	r.AppendInput("lo")
	if p := r.Partial(); p.Input != "Hello" {
		t.Errorf("Expected partial 'Hello', got '%s'", p.Input)
	}

	turn := r.CompleteTurn()

	history := r.History()
	if len(history) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(history))
	}
	if history[0].Speaker != SpeakerUser || history[0].Text != "Hello" {
		t.Errorf("Expected {user, Hello}, got %+v", history[0])
	}
	if p := r.Partial(); p.Input != "" || p.Output != "" {
		t.Errorf("Expected accumulators reset, got %+v", p)
	}
	if turn.Number != 1 {
		t.Errorf("Expected turn number 1, got %d", turn.Number)
	}
}

func TestReconciler_UserThenModel(t *testing.T) {
	r := NewReconciler(Limits{})

	// Output arrives before input within the same turn
	r.AppendOutput("good day")
	r.AppendInput("guten tag")
	turn := r.CompleteTurn()

	if len(turn.Entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(turn.Entries))
	}
	if turn.Entries[0] != (Entry{Speaker: SpeakerUser, Text: "guten tag"}) {
		t.Errorf("Expected user entry first, got %+v", turn.Entries[0])
	}
	if turn.Entries[1] != (Entry{Speaker: SpeakerModel, Text: "good day"}) {
		t.Errorf("Expected model entry second, got %+v", turn.Entries[1])
	}
}

func TestReconciler_EmptyTurn(t *testing.T) {
	r := NewReconciler(Limits{})

	r.AppendInput("   ")
	turn := r.CompleteTurn()

	if len(turn.Entries) != 0 {
		t.Errorf("Expected no entries for blank turn, got %d", len(turn.Entries))
	}
	if turn.Number != 0 || r.Turns() != 0 {
		t.Errorf("Expected turn counter unchanged, got %d", r.Turns())
	}
}

func TestReconciler_MaxEntries(t *testing.T) {
	r := NewReconciler(Limits{MaxEntries: 3})

	for _, text := range []string{"one", "two", "three", "four"} {
		r.AppendInput(text)
		r.CompleteTurn()
	}

	history := r.History()
	if len(history) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(history))
	}
	if history[0].Text != "two" || history[2].Text != "four" {
		t.Errorf("Expected oldest entry dropped, got %+v", history)
	}
}

func TestReconciler_MaxCharsKeepsNewest(t *testing.T) {
	r := NewReconciler(Limits{MaxChars: 10})

	r.AppendInput("short")
	r.CompleteTurn()
	r.AppendInput("a much longer sentence")
	r.CompleteTurn()

	history := r.History()
	if len(history) != 1 {
		t.Fatalf("Expected only the newest entry, got %d", len(history))
	}
	if history[0].Text != "a much longer sentence" {
		t.Errorf("Expected newest entry kept even when over budget, got '%s'", history[0].Text)
	}
}

func TestReconciler_Reset(t *testing.T) {
	r := NewReconciler(Limits{})
	r.AppendInput("hello")
	r.CompleteTurn()
	r.AppendOutput("pending")

	r.Reset()

	if len(r.History()) != 0 {
		t.Error("Expected empty history after reset")
	}
	if r.Partial().Output != "" {
		t.Error("Expected empty accumulators after reset")
	}
	if r.Turns() != 0 {
		t.Errorf("Expected turn counter reset, got %d", r.Turns())
	}
}

func TestFormatText(t *testing.T) {
	text := FormatText([]Entry{
		{Speaker: SpeakerUser, Text: "guten tag"},
		{Speaker: SpeakerModel, Text: "good day"},
	})

	expected := "USER: guten tag\nMODEL: good day\n"
	if text != expected {
		t.Errorf("Expected %q, got %q", expected, text)
	}
	if FormatText(nil) != "" {
		t.Error("Expected empty output for empty history")
	}
}
