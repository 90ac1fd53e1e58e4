package promptlib

import (
	"regexp"
	"testing"
)

func TestDetectYesNo(t *testing.T) {
	lib := NewLibrary(nil)
	lib.patterns.Store(&[]Pattern{
		{Kind: KindYesNo, Priority: 10, regex: regexp.MustCompile(`Do you trust this workspace\? \(y/n\)`)},
	})

	text := "... Do you trust this workspace? (y/n)"
	prompt, ok := lib.Detect(text, 40)
	if !ok {
		t.Fatal("expected a match")
	}
	if prompt.Kind != KindYesNo {
		t.Fatalf("expected KindYesNo, got %v", prompt.Kind)
	}
	if len(prompt.Options) != 2 || prompt.Options[0].Label != "y" || prompt.Options[1].Label != "n" {
		t.Fatalf("unexpected options: %+v", prompt.Options)
	}
}

func TestFingerprintCollidesAcrossCosmeticVariation(t *testing.T) {
	lib := NewLibrary(nil)
	lib.patterns.Store(&[]Pattern{
		{Kind: KindNumberedSelection, Priority: 10, regex: regexp.MustCompile(`Select a file`)},
	})

	a, _ := lib.Detect("Select a file: choose 1 or 2", 40)
	b, _ := lib.Detect("Select a file: choose 7 or 12", 40)
	if a.Fingerprint != b.Fingerprint {
		t.Fatalf("expected fingerprints to collide modulo numeric variation, got %q vs %q", a.Fingerprint, b.Fingerprint)
	}
}

func TestFirstMatchWinsByPriority(t *testing.T) {
	lib := NewLibrary(nil)
	lib.patterns.Store(&[]Pattern{
		{Kind: KindTrustWorkspace, Priority: 1, regex: regexp.MustCompile(`trust`)},
		{Kind: KindYesNo, Priority: 2, regex: regexp.MustCompile(`trust`)},
	})

	prompt, ok := lib.Detect("do you trust this?", 10)
	if !ok || prompt.Kind != KindTrustWorkspace {
		t.Fatalf("expected the lower-priority-number pattern to win, got %v, ok=%v", prompt.Kind, ok)
	}
}

func TestDetectNoMatchIsUnknown(t *testing.T) {
	lib := NewLibrary(nil)
	prompt, ok := lib.Detect("just some ordinary output", 40)
	if ok {
		t.Fatal("expected no match for an empty library")
	}
	if prompt.Kind != KindUnknown {
		t.Fatalf("expected KindUnknown for no match, got %v", prompt.Kind)
	}
}
