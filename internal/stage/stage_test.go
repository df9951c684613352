package stage

import "testing"

func TestAllOrder(t *testing.T) {
	order := All()
	if len(order) != 3 {
		t.Fatalf("expected three stages, got %d", len(order))
	}
	if order[0] != Separation || order[1] != Transcription || order[2] != Position {
		t.Fatalf("unexpected stage order: %v", order)
	}
}

func TestParse(t *testing.T) {
	if s, ok := Parse("transcription"); !ok || s != Transcription {
		t.Fatalf("Parse(transcription) = %v, %v", s, ok)
	}
	if _, ok := Parse("mastering"); ok {
		t.Fatal("Parse should reject unknown stage names")
	}
}

func TestVocalStem(t *testing.T) {
	payload := &SeparationPayload{
		Stems: []Stem{
			{Name: "drums", Artifact: "drums.wav"},
			{Name: "Vocals", Artifact: "vocals.wav"},
		},
	}
	stem, ok := payload.VocalStem()
	if !ok || stem.Artifact != "vocals.wav" {
		t.Fatalf("expected vocals stem, got %+v ok=%v", stem, ok)
	}

	none := &SeparationPayload{Stems: []Stem{{Name: "bass"}}}
	if _, ok := none.VocalStem(); ok {
		t.Fatal("expected no vocal stem")
	}
}

func TestIsVocalStemName(t *testing.T) {
	for _, name := range []string{"vocals", "Vocals", "vocal.wav", "VOICE", " lead "} {
		if !IsVocalStemName(name) {
			t.Errorf("IsVocalStemName(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"drums", "other", "bass.wav", ""} {
		if IsVocalStemName(name) {
			t.Errorf("IsVocalStemName(%q) = true, want false", name)
		}
	}
}

func TestWordsDigestTracksContent(t *testing.T) {
	a := &TranscriptionPayload{Words: []Word{{Word: "hello", Start: 0, End: 0.4}}}
	b := &TranscriptionPayload{Words: []Word{{Word: "hello", Start: 0, End: 0.4}}}
	c := &TranscriptionPayload{Words: []Word{{Word: "hello", Start: 0, End: 0.5}}}

	if a.WordsDigest() != b.WordsDigest() {
		t.Fatal("identical word lists must produce identical digests")
	}
	if a.WordsDigest() == c.WordsDigest() {
		t.Fatal("changed timing must change the digest")
	}
}
