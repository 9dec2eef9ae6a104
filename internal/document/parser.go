// Package document parses markdown books into the chapter, paragraph, and
// sentence structure the audiobook builder narrates.
package document

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Sentence is one narratable unit of text.
type Sentence struct {
	Text  string
	Words int

	// Confidence scores how certain the boundary detection is (0 to 1).
	// Abbreviation-adjacent boundaries score lower.
	Confidence float64
}

// Paragraph groups the sentences of one markdown paragraph.
type Paragraph struct {
	Sentences []Sentence
	Words     int
}

// Chapter is a heading-delimited section of the book.
type Chapter struct {
	Title      string
	Level      int
	Paragraphs []Paragraph
	Words      int
}

// Book is the parsed document.
type Book struct {
	Title    string
	Chapters []Chapter
	Words    int
}

// Parser turns markdown into a Book. Code blocks, images, and raw HTML are
// skipped; they have no sensible narration.
type Parser struct {
	md goldmark.Markdown

	// minSentenceLength drops fragments shorter than this many characters.
	minSentenceLength int
}

// NewParser creates a document parser.
func NewParser() *Parser {
	return &Parser{
		md:                goldmark.New(),
		minSentenceLength: 3,
	}
}

// Parse builds the Book structure from markdown source. Content before the
// first heading becomes an untitled preamble chapter.
func (p *Parser) Parse(source []byte) (*Book, error) {
	reader := text.NewReader(source)
	root := p.md.Parser().Parse(reader)

	book := &Book{}
	current := &Chapter{Title: "", Level: 0}

	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			title := string(node.Text(source))
			if book.Title == "" && node.Level == 1 {
				book.Title = title
			}
			if len(current.Paragraphs) > 0 || current.Title != "" {
				book.Chapters = append(book.Chapters, *current)
			}
			current = &Chapter{Title: title, Level: node.Level}
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph:
			para := p.parseParagraph(node, source)
			if len(para.Sentences) > 0 {
				current.Paragraphs = append(current.Paragraphs, para)
				current.Words += para.Words
			}
			return ast.WalkSkipChildren, nil

		case *ast.ListItem:
			para := p.parseParagraph(node, source)
			if len(para.Sentences) > 0 {
				current.Paragraphs = append(current.Paragraphs, para)
				current.Words += para.Words
			}
			return ast.WalkSkipChildren, nil

		case *ast.Blockquote:
			// Quoted prose narrates like any other paragraph.
			return ast.WalkContinue, nil

		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	if len(current.Paragraphs) > 0 || current.Title != "" {
		book.Chapters = append(book.Chapters, *current)
	}
	for i := range book.Chapters {
		book.Words += book.Chapters[i].Words
	}
	return book, nil
}

// parseParagraph extracts the narratable text of a block node and splits
// it into sentences.
func (p *Parser) parseParagraph(node ast.Node, source []byte) Paragraph {
	var sb strings.Builder
	collectText(node, source, &sb)

	para := Paragraph{}
	for _, s := range p.SplitSentences(sb.String()) {
		para.Sentences = append(para.Sentences, s)
		para.Words += s.Words
	}
	return para
}

// collectText walks a node's inline children, keeping text and link labels
// and dropping code spans and images.
func collectText(node ast.Node, source []byte, sb *strings.Builder) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.CodeSpan, *ast.Image:
			// skip
		case *ast.Link:
			collectText(c, source, sb)
		default:
			collectText(c, source, sb)
		}
	}
}

// sentenceEnd matches terminal punctuation runs followed by whitespace,
// closing quotes, or end of input.
var sentenceEnd = regexp.MustCompile(`([.!?]+)(["')\]]*)(\s+|$)`)

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"i.e": true, "e.g": true, "inc": true, "ltd": true, "co": true,
	"vol": true, "no": true, "pg": true, "pp": true, "ed": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true,
	"jul": true, "aug": true, "sep": true, "sept": true, "oct": true,
	"nov": true, "dec": true, "u.s": true, "u.k": true, "e.u": true,
}

// SplitSentences breaks plain text into sentences with boundary confidence
// scores. A boundary right after a known abbreviation is kept inside the
// sentence; unusual boundaries lower the confidence instead of being
// dropped outright.
func (p *Parser) SplitSentences(textIn string) []Sentence {
	textIn = strings.TrimSpace(textIn)
	if textIn == "" {
		return nil
	}

	var sentences []Sentence
	start := 0
	for _, loc := range sentenceEnd.FindAllStringSubmatchIndex(textIn, -1) {
		end := loc[1]
		candidate := strings.TrimSpace(textIn[start:end])
		if len(candidate) < p.minSentenceLength {
			continue
		}
		if endsWithAbbreviation(textIn[:loc[3]]) {
			continue
		}
		sentences = append(sentences, newSentence(candidate, textIn, loc))
		start = end
	}

	// Trailing text without terminal punctuation still narrates, at low
	// boundary confidence.
	if rest := strings.TrimSpace(textIn[start:]); len(rest) >= p.minSentenceLength {
		sentences = append(sentences, Sentence{
			Text:       rest,
			Words:      len(strings.Fields(rest)),
			Confidence: 0.5,
		})
	}
	return sentences
}

func newSentence(candidate, full string, loc []int) Sentence {
	confidence := 1.0
	punct := full[loc[2]:loc[3]]
	if punct == "." {
		// A single period after a short token may still be an unknown
		// abbreviation or an initial.
		if prev := lastToken(full[:loc[2]]); len(prev) <= 2 {
			confidence = 0.7
		}
	}
	return Sentence{
		Text:       candidate,
		Words:      len(strings.Fields(candidate)),
		Confidence: confidence,
	}
}

func endsWithAbbreviation(prefix string) bool {
	token := strings.ToLower(strings.TrimSuffix(lastToken(prefix), "."))
	return abbreviations[token]
}

func lastToken(s string) string {
	s = strings.TrimRight(s, ". ")
	if i := strings.LastIndexAny(s, " \t\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
