package syntax

import "testing"

func kinds(tokens []Token) []Kind {
	ks := make([]Kind, len(tokens))
	for i, t := range tokens {
		ks[i] = t.Kind
	}
	return ks
}

func TestLexSimpleNote(t *testing.T) {
	src := []byte("C4,\n")
	toks, diags := Lex(src)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	want := []Kind{PitchSpellOctave, Comma, Newline}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexPitchChainWithRatioAndAt(t *testing.T) {
	src := []byte("C4@3/2,\n")
	toks, _ := Lex(src)
	want := []Kind{PitchSpellOctave, At, PitchRatio, Comma, Newline}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexIdentifierPreferredOverSpellWhenLonger(t *testing.T) {
	toks, _ := Lex([]byte("Cmaj"))
	if len(toks) != 1 || toks[0].Kind != Identifier {
		t.Fatalf("got %v, want single Identifier", toks)
	}
}

func TestLexSingleLetterPrefersSpellOverIdentifier(t *testing.T) {
	toks, _ := Lex([]byte("A"))
	if len(toks) != 1 || toks[0].Kind != PitchSpellSimple {
		t.Fatalf("got %v, want single PitchSpellSimple", toks)
	}
}

func TestLexRestAndSustain(t *testing.T) {
	toks, _ := Lex([]byte(".@C4,-,\n"))
	want := []Kind{PitchRest, At, PitchSpellOctave, Comma, PitchSustain, Comma, Newline}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexUnknownByteProducesErrorTokenAndDiagnostic(t *testing.T) {
	toks, diags := Lex([]byte("$"))
	if len(toks) != 1 || toks[0].Kind != Error {
		t.Fatalf("got %v, want single Error token", toks)
	}
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
}

func TestLexQuantizeAndDurationForms(t *testing.T) {
	toks, diags := Lex([]byte("{1:4}C4[,,],[2:3]\n"))
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	want := []Kind{Quantize, PitchSpellOctave, DurationCommas, Comma, DurationFraction, Newline}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
