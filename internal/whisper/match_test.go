package whisper

import "testing"

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{"promo code", "brought to you by", "call now"}, 0.9)

	tests := []struct {
		name       string
		transcript string
		want       string
		ok         bool
	}{
		{"exact", "Use promo code SAVE20 at checkout.", "promo code", true},
		{"case and punctuation", "This episode is BROUGHT to you, by Acme.", "brought to you by", true},
		{"transcription slip", "use promo coad today", "promo code", true},
		{"no ad", "and then the detective opened the door", "", false},
		{"too short", "call", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, score, ok := m.Match(tt.transcript)
			if ok != tt.ok {
				t.Fatalf("Match(%q) ok = %v (phrase %q, score %.2f), want %v", tt.transcript, ok, got, score, tt.ok)
			}
			if got != tt.want {
				t.Errorf("expected phrase %q, got %q", tt.want, got)
			}
			if ok && score < 0.9 {
				t.Errorf("score %.2f below threshold", score)
			}
		})
	}
}

func TestMatcherIgnoresEmptyPhrases(t *testing.T) {
	m := NewMatcher([]string{"", "  ", "!!"}, 0.5)
	if len(m.phrases) != 0 {
		t.Fatalf("expected no phrases, got %d", len(m.phrases))
	}
	if _, _, ok := m.Match("anything at all"); ok {
		t.Error("empty matcher must not match")
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("Don't miss it -- 50% off!")
	want := []string{"don't", "miss", "it", "50", "off"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
