package book

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bookvoice/bookvoice/internal/audiofile"
	"github.com/bookvoice/bookvoice/internal/document"
	"github.com/bookvoice/bookvoice/pkg/synth"
)

// fakeSynth renders each request to a deterministic WAV payload derived
// from the text, so segment ordering is verifiable in the output.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeSynth) Synthesize(_ context.Context, req *synth.SynthesisRequest) (*synth.SynthesisResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("scripted failure")
	}

	wav, err := audiofile.EncodeWAV([]byte(req.Text), audiofile.DefaultPCMFormat())
	if err != nil {
		return nil, err
	}
	return &synth.SynthesisResponse{
		Audio: &synth.AudioBuffer{
			Data:       wav,
			SampleRate: 22050,
			Channels:   1,
			Format:     "wav",
		},
		Metadata: synth.ResponseMetadata{Adapter: "fake"},
	}, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func parseTestBook(t *testing.T, md string) *document.Book {
	t.Helper()
	bk, err := document.NewParser().Parse([]byte(md))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return bk
}

const testBook = `## First

Alpha beta gamma. Delta epsilon.

## Second

One two three four five six.
`

func TestBuildWritesChapterFiles(t *testing.T) {
	dir := t.TempDir()
	fs := &fakeSynth{}
	b := NewBuilder(fs, nil, Options{OutDir: dir, Workers: 3})

	results, err := b.Build(context.Background(), parseTestBook(t, testBook))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	for _, res := range results {
		if _, err := os.Stat(res.Path); err != nil {
			t.Errorf("chapter file missing: %v", err)
		}
		data, _ := os.ReadFile(res.Path)
		if !audiofile.IsWAV(data) {
			t.Errorf("chapter file %s is not WAV", filepath.Base(res.Path))
		}
		if res.Duration <= 0 {
			t.Errorf("chapter %q duration = %v, want > 0", res.Title, res.Duration)
		}
	}
	if results[0].Title != "First" || results[1].Title != "Second" {
		t.Errorf("chapter order = %q, %q", results[0].Title, results[1].Title)
	}
}

func TestBuildPreservesSegmentOrder(t *testing.T) {
	dir := t.TempDir()
	fs := &fakeSynth{}
	// One word per segment forces many segments per chapter.
	b := NewBuilder(fs, nil, Options{OutDir: dir, Workers: 4, SegmentWords: 1})

	md := "## Only\n\nFirst sentence here. Second sentence here. Third sentence here.\n"
	results, err := b.Build(context.Background(), parseTestBook(t, md))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if results[0].Segments != 3 {
		t.Fatalf("segments = %d, want 3", results[0].Segments)
	}

	data, _ := os.ReadFile(results[0].Path)
	pcm, _, err := audiofile.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	// The fake synth writes the text as the PCM payload, so order is
	// directly visible in the joined audio.
	want := "First sentence here.Second sentence here.Third sentence here."
	if string(pcm) != want {
		t.Errorf("joined pcm = %q, want %q", pcm, want)
	}
}

func TestBuildUsesCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := audiofile.NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	defer cache.Close()

	fs := &fakeSynth{}
	b := NewBuilder(fs, cache, Options{OutDir: dir, Workers: 2})
	bk := parseTestBook(t, testBook)

	if _, err := b.Build(context.Background(), bk); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	firstCalls := fs.callCount()

	results, err := b.Build(context.Background(), bk)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if fs.callCount() != firstCalls {
		t.Errorf("second build called synthesis %d more times, want 0", fs.callCount()-firstCalls)
	}
	for _, res := range results {
		if res.Cached != res.Segments {
			t.Errorf("chapter %q cached %d of %d segments", res.Title, res.Cached, res.Segments)
		}
	}
}

func TestBuildCacheKeyedByAdapter(t *testing.T) {
	cacheDir := t.TempDir()
	cache, err := audiofile.NewCache(cacheDir, 0)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	defer cache.Close()

	fs := &fakeSynth{}
	bk := parseTestBook(t, testBook)

	first := NewBuilder(fs, cache, Options{OutDir: t.TempDir(), Adapter: "espeak"})
	if _, err := first.Build(context.Background(), bk); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	firstCalls := fs.callCount()

	second := NewBuilder(fs, cache, Options{OutDir: t.TempDir(), Adapter: "gtts"})
	if _, err := second.Build(context.Background(), bk); err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if fs.callCount() == firstCalls {
		t.Error("a run pinned to a different adapter must not hit the cache")
	}
}

func TestBuildPropagatesFailure(t *testing.T) {
	fs := &fakeSynth{fail: true}
	b := NewBuilder(fs, nil, Options{OutDir: t.TempDir()})
	if _, err := b.Build(context.Background(), parseTestBook(t, testBook)); err == nil {
		t.Error("Build must fail when synthesis fails")
	}
}

func TestChapterFileName(t *testing.T) {
	cases := []struct {
		number int
		title  string
		want   string
	}{
		{1, "The Voyage Home", "01-the-voyage-home.wav"},
		{12, "What?! Again...", "12-what-again.wav"},
		{3, "", "03-chapter.wav"},
	}
	for _, c := range cases {
		if got := chapterFileName(c.number, c.title); got != c.want {
			t.Errorf("chapterFileName(%d, %q) = %q, want %q", c.number, c.title, got, c.want)
		}
	}
}
