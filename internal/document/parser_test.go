package document

import (
	"strings"
	"testing"
)

const sampleBook = `# The Voyage

## Chapter One

It was a dark and stormy night. The captain stood at the helm.

He said nothing. The crew waited.

## Chapter Two

Dr. Smith examined the charts carefully. Land was near.

` + "```go\nfmt.Println(\"not narrated\")\n```" + `

The storm passed by morning.
`

func TestParseChapters(t *testing.T) {
	book, err := NewParser().Parse([]byte(sampleBook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if book.Title != "The Voyage" {
		t.Errorf("title = %q, want The Voyage", book.Title)
	}
	// The H1 title chapter plus two content chapters.
	if len(book.Chapters) != 3 {
		t.Fatalf("chapters = %d, want 3", len(book.Chapters))
	}
	if book.Chapters[1].Title != "Chapter One" {
		t.Errorf("chapter 1 title = %q", book.Chapters[1].Title)
	}
	if len(book.Chapters[1].Paragraphs) != 2 {
		t.Errorf("chapter 1 paragraphs = %d, want 2", len(book.Chapters[1].Paragraphs))
	}
}

func TestParseSkipsCodeBlocks(t *testing.T) {
	book, err := NewParser().Parse([]byte(sampleBook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, ch := range book.Chapters {
		for _, p := range ch.Paragraphs {
			for _, s := range p.Sentences {
				if strings.Contains(s.Text, "Println") {
					t.Errorf("code block leaked into narration: %q", s.Text)
				}
			}
		}
	}
}

func TestParseWordCounts(t *testing.T) {
	book, err := NewParser().Parse([]byte("## C\n\nOne two three. Four five.\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if book.Words != 5 {
		t.Errorf("book words = %d, want 5", book.Words)
	}
}

func TestSplitSentencesBasic(t *testing.T) {
	p := NewParser()
	got := p.SplitSentences("It was late. The ship sailed on! Was anyone watching?")
	if len(got) != 3 {
		t.Fatalf("sentences = %d, want 3", len(got))
	}
	if got[0].Text != "It was late." {
		t.Errorf("first = %q", got[0].Text)
	}
	if got[0].Confidence != 1.0 {
		t.Errorf("confidence = %.1f, want 1.0", got[0].Confidence)
	}
}

func TestSplitSentencesAbbreviations(t *testing.T) {
	p := NewParser()
	got := p.SplitSentences("Dr. Smith examined the charts. Land was near.")
	if len(got) != 2 {
		t.Fatalf("sentences = %d, want 2 (Dr. must not split): %v", len(got), texts(got))
	}
	if !strings.HasPrefix(got[0].Text, "Dr. Smith") {
		t.Errorf("first = %q, want it to keep the abbreviation", got[0].Text)
	}
}

func TestSplitSentencesTrailingFragment(t *testing.T) {
	p := NewParser()
	got := p.SplitSentences("A full sentence here. and then a trailing fragment")
	if len(got) != 2 {
		t.Fatalf("sentences = %d, want 2", len(got))
	}
	last := got[len(got)-1]
	if last.Confidence >= 1.0 {
		t.Errorf("trailing fragment confidence = %.1f, want below 1.0", last.Confidence)
	}
}

func TestSplitSentencesEmpty(t *testing.T) {
	if got := NewParser().SplitSentences("   "); got != nil {
		t.Errorf("blank input should yield no sentences, got %v", got)
	}
}

func texts(ss []Sentence) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Text
	}
	return out
}
