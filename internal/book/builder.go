// Package book renders a parsed document into per-chapter audiobook files.
package book

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/bookvoice/bookvoice/internal/audiofile"
	"github.com/bookvoice/bookvoice/internal/document"
	"github.com/bookvoice/bookvoice/pkg/synth"
)

// Synthesizer is the synthesis surface the builder needs. *synth.Manager
// satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *synth.SynthesisRequest) (*synth.SynthesisResponse, error)
}

// Options configures a build.
type Options struct {
	// OutDir receives the chapter WAV files.
	OutDir string

	// Adapter names the preferred serving adapter; empty lets the
	// manager pick. Cache keys include it so runs pinned to different
	// adapters never serve each other's audio.
	Adapter string

	// Voice requested for every segment.
	Voice synth.VoiceSpec

	// Rate is the speaking rate multiplier.
	Rate float64

	// Workers bounds concurrent synthesis. Defaults to 2.
	Workers int

	// SegmentWords is the target words per synthesis unit. Paragraphs
	// are packed into segments up to this size. Defaults to 150.
	SegmentWords int
}

// ChapterResult describes one rendered chapter.
type ChapterResult struct {
	Title    string
	Path     string
	Words    int
	Duration time.Duration
	Segments int
	Cached   int
}

// Builder renders books through a synthesis manager, caching rendered
// segments so re-runs only pay for changed text.
type Builder struct {
	synth Synthesizer
	cache *audiofile.Cache
	opts  Options
}

// NewBuilder creates a builder. The cache is optional.
func NewBuilder(s Synthesizer, cache *audiofile.Cache, opts Options) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.SegmentWords <= 0 {
		opts.SegmentWords = 150
	}
	if opts.Rate == 0 {
		opts.Rate = 1.0
	}
	return &Builder{synth: s, cache: cache, opts: opts}
}

// Build renders every chapter of the book and returns the results in
// chapter order. A chapter with no narratable text is skipped.
func (b *Builder) Build(ctx context.Context, bk *document.Book) ([]ChapterResult, error) {
	if err := os.MkdirAll(b.opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var results []ChapterResult
	for i, ch := range bk.Chapters {
		if ch.Words == 0 {
			continue
		}
		res, err := b.buildChapter(ctx, i+1, &ch)
		if err != nil {
			return results, fmt.Errorf("chapter %q: %w", ch.Title, err)
		}
		results = append(results, res)
		log.Info("chapter rendered",
			"chapter", res.Title, "words", res.Words,
			"duration", res.Duration.Round(time.Second),
			"cached_segments", res.Cached, "file", filepath.Base(res.Path))
	}
	return results, nil
}

// segment is one synthesis unit with its position in the chapter.
type segment struct {
	index int
	text  string
}

type segmentResult struct {
	index  int
	audio  []byte
	cached bool
	err    error
}

func (b *Builder) buildChapter(ctx context.Context, number int, ch *document.Chapter) (ChapterResult, error) {
	segments := b.segmentChapter(ch)
	if len(segments) == 0 {
		return ChapterResult{}, fmt.Errorf("no narratable text")
	}

	audio := make([][]byte, len(segments))
	cached := 0

	// Bounded worker pool; results land at their segment index so
	// chapter order survives concurrency.
	jobs := make(chan segment)
	out := make(chan segmentResult, len(segments))
	var wg sync.WaitGroup
	for w := 0; w < b.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range jobs {
				out <- b.renderSegment(ctx, seg)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, seg := range segments {
			select {
			case jobs <- seg:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	var firstErr error
	for res := range out {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		audio[res.index] = res.audio
		if res.cached {
			cached++
		}
	}
	if firstErr != nil {
		return ChapterResult{}, firstErr
	}

	joined, err := audiofile.ConcatWAV(audio)
	if err != nil {
		return ChapterResult{}, fmt.Errorf("failed to join segments: %w", err)
	}

	path := filepath.Join(b.opts.OutDir, chapterFileName(number, ch.Title))
	if err := os.WriteFile(path, joined, 0644); err != nil {
		return ChapterResult{}, fmt.Errorf("failed to write chapter file: %w", err)
	}

	pcm, format, err := audiofile.DecodeWAV(joined)
	if err != nil {
		return ChapterResult{}, err
	}
	log.Debug("chapter file written",
		"path", path, "size", humanize.Bytes(uint64(len(joined))))

	return ChapterResult{
		Title:    ch.Title,
		Path:     path,
		Words:    ch.Words,
		Duration: format.Duration(len(pcm)),
		Segments: len(segments),
		Cached:   cached,
	}, nil
}

// renderSegment synthesizes one segment, consulting the cache first.
func (b *Builder) renderSegment(ctx context.Context, seg segment) segmentResult {
	var key string
	if b.cache != nil {
		key = audiofile.Key(seg.text, b.opts.Adapter, b.opts.Voice.ID, b.opts.Rate)
		if data, ok := b.cache.Get(key); ok {
			return segmentResult{index: seg.index, audio: data, cached: true}
		}
	}

	resp, err := b.synth.Synthesize(ctx, &synth.SynthesisRequest{
		Text:  seg.text,
		Voice: b.opts.Voice,
		Options: synth.SynthesisOptions{
			Format: "wav",
			Rate:   b.opts.Rate,
		},
	})
	if err != nil {
		return segmentResult{index: seg.index, err: err}
	}

	data := resp.Audio.Data
	if !audiofile.IsWAV(data) {
		data, err = audiofile.EncodeWAV(data, audiofile.PCMFormat{
			SampleRate:    resp.Audio.SampleRate,
			Channels:      resp.Audio.Channels,
			BitsPerSample: 16,
		})
		if err != nil {
			return segmentResult{index: seg.index, err: err}
		}
	}

	if b.cache != nil {
		if err := b.cache.Put(key, data); err != nil {
			log.Warn("failed to cache segment", "error", err)
		}
	}
	return segmentResult{index: seg.index, audio: data}
}

// segmentChapter packs a chapter's sentences into synthesis units of
// roughly SegmentWords words, never splitting a sentence and never packing
// across a paragraph boundary.
func (b *Builder) segmentChapter(ch *document.Chapter) []segment {
	var segments []segment
	add := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		segments = append(segments, segment{index: len(segments), text: text})
	}

	for _, para := range ch.Paragraphs {
		var sb strings.Builder
		words := 0
		for _, s := range para.Sentences {
			if words > 0 && words+s.Words > b.opts.SegmentWords {
				add(sb.String())
				sb.Reset()
				words = 0
			}
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(s.Text)
			words += s.Words
		}
		add(sb.String())
	}
	return segments
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9]+`)

// chapterFileName builds a stable, filesystem-safe name like
// "03-the-voyage-home.wav".
func chapterFileName(number int, title string) string {
	slug := unsafeFileChars.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "chapter"
	}
	return fmt.Sprintf("%02d-%s.wav", number, slug)
}
