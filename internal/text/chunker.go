package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Method selects the boundary strategy used when splitting a document.
type Method string

const (
	MethodSentences Method = "sentences"
	MethodRecursive Method = "recursive"
	MethodChapter   Method = "chapter"
	MethodToken     Method = "token"
)

// Approximate characters per token, used by the token method.
const charsPerToken = 4

// Options controls how a document is chunked.
//
// MaxSize and Overlap are measured in characters for the sentences,
// recursive and chapter methods, and in approximate tokens for the token
// method. ChapterPattern overrides the built-in heading heuristic for the
// chapter method.
type Options struct {
	Method         Method
	MaxSize        int
	Overlap        int
	Adaptive       bool
	MultiLevel     bool
	Language       string
	ChapterPattern string
}

// Chunk is a contiguous span of the source document. Text is always the
// verbatim slice source[StartIndex:EndIndex].
type Chunk struct {
	Text              string
	StartIndex        int
	EndIndex          int
	RelativePosition  float64
	SourceRef         string
	ContextualSummary string
}

// ChunkingError reports invalid chunking options.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return "chunking: " + e.Reason
}

var builtinChapterRe = regexp.MustCompile(`(?mi)^\s*(?:chapter|part|book)\s+\S+.*$|^#{1,3}\s+.*$`)

// Split breaks text into overlapping chunks according to opts. The result
// is non-empty iff text is non-empty. Every chunk is an exact span of the
// input, consecutive chunks overlap by at most opts.Overlap characters and
// together they cover the whole document.
func Split(text, sourceRef string, opts Options) ([]Chunk, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	maxChars := opts.MaxSize
	overlap := opts.Overlap
	if opts.Method == MethodToken {
		maxChars *= charsPerToken
		overlap *= charsPerToken
	}
	if opts.Adaptive {
		maxChars = adaptiveMax(text, maxChars)
		if overlap >= maxChars {
			overlap = maxChars - 1
		}
	}

	var spans []span
	switch opts.Method {
	case MethodChapter:
		spans = chunkChapters(text, maxChars, overlap, opts)
	case MethodSentences:
		spans = window(text, 0, len(text), maxChars, overlap, sentenceBoundaries(text, opts.Language))
	case MethodToken:
		spans = window(text, 0, len(text), maxChars, overlap, wordBoundaries(text))
	default: // MethodRecursive
		spans = recursiveSpans(text, 0, len(text), maxChars, overlap)
	}

	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		chunks = append(chunks, Chunk{
			Text:             text[sp.start:sp.end],
			StartIndex:       sp.start,
			EndIndex:         sp.end,
			RelativePosition: float64(sp.start) / float64(len(text)),
			SourceRef:        sourceRef,
		})
	}
	return chunks, nil
}

func validate(opts Options) error {
	switch opts.Method {
	case MethodSentences, MethodRecursive, MethodChapter, MethodToken, "":
	default:
		return &ChunkingError{Reason: fmt.Sprintf("unknown method %q", opts.Method)}
	}
	if opts.MaxSize <= 0 {
		return &ChunkingError{Reason: fmt.Sprintf("max_size must be positive, got %d", opts.MaxSize)}
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.MaxSize {
		return &ChunkingError{Reason: fmt.Sprintf("overlap %d must satisfy 0 <= overlap < max_size %d", opts.Overlap, opts.MaxSize)}
	}
	if opts.ChapterPattern != "" {
		if _, err := regexp.Compile(opts.ChapterPattern); err != nil {
			return &ChunkingError{Reason: fmt.Sprintf("invalid chapter pattern: %v", err)}
		}
	}
	return nil
}

// adaptiveMax scales the chunk budget inversely with text complexity,
// measured as average sentence length in words. The effective maximum is
// maxChars * 15 / avgWordsPerSentence, clamped to [maxChars/4, maxChars],
// so longer sentences always yield smaller (or equal) chunks.
func adaptiveMax(text string, maxChars int) int {
	sentences := sentenceBoundaries(text, "")
	count := len(sentences)
	if count == 0 {
		count = 1
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return maxChars
	}
	avg := float64(words) / float64(count)
	if avg <= 0 {
		return maxChars
	}
	eff := int(float64(maxChars) * 15.0 / avg)
	if eff > maxChars {
		eff = maxChars
	}
	if eff < maxChars/4 {
		eff = maxChars / 4
	}
	if eff < 1 {
		eff = 1
	}
	return eff
}

type span struct {
	start, end int
}

// window tiles text[lo:hi] into spans of at most maxChars, preferring the
// supplied boundary offsets as cut points. Each span starts overlap
// characters before the previous span's end (clamped to keep progress).
func window(text string, lo, hi, maxChars, overlap int, boundaries []int) []span {
	var spans []span
	start := lo
	for start < hi {
		limit := start + maxChars
		if limit >= hi {
			spans = append(spans, span{start, hi})
			break
		}
		end := cutAt(text, start, limit, boundaries)
		spans = append(spans, span{start, end})

		next := end - overlap
		if next <= start {
			next = end
		}
		// Overlap must begin at a rune boundary.
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// cutAt returns the largest boundary in (start, limit], falling back to the
// last word break and then to a rune-aligned hard cut.
func cutAt(text string, start, limit int, boundaries []int) int {
	best := -1
	for _, b := range boundaries {
		if b > start && b <= limit {
			best = b
		}
		if b > limit {
			break
		}
	}
	if best > 0 {
		return best
	}
	// No structural boundary in range: break at the last space.
	for i := limit; i > start; i-- {
		if text[i-1] == ' ' || text[i-1] == '\n' || text[i-1] == '\t' {
			return i
		}
	}
	for limit > start && !utf8.RuneStart(text[limit]) {
		limit--
	}
	if limit == start {
		_, n := utf8.DecodeRuneInString(text[start:])
		return start + n
	}
	return limit
}

// recursiveSpans prefers paragraph breaks, then line breaks, then sentence
// ends, then word breaks, using the first level that offers any cut point
// inside each window.
func recursiveSpans(text string, lo, hi, maxChars, overlap int) []span {
	levels := [][]int{
		paragraphBoundaries(text),
		lineBoundaries(text),
		sentenceBoundaries(text, ""),
		wordBoundaries(text),
	}

	var spans []span
	start := lo
	for start < hi {
		limit := start + maxChars
		if limit >= hi {
			spans = append(spans, span{start, hi})
			break
		}
		end := -1
		for _, boundaries := range levels {
			for _, b := range boundaries {
				if b > start && b <= limit {
					end = b
				}
				if b > limit {
					break
				}
			}
			if end > 0 {
				break
			}
		}
		if end < 0 {
			end = cutAt(text, start, limit, nil)
		}
		spans = append(spans, span{start, end})

		next := end - overlap
		if next <= start {
			next = end
		}
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// chunkChapters splits at chapter headings. Chunks never straddle a
// chapter boundary; with MultiLevel, oversized chapters are re-chunked
// recursively inside their own bounds. When no headings are found the
// whole document falls back to the recursive method.
func chunkChapters(text string, maxChars, overlap int, opts Options) []span {
	re := builtinChapterRe
	if opts.ChapterPattern != "" {
		re = regexp.MustCompile(opts.ChapterPattern)
	}

	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return recursiveSpans(text, 0, len(text), maxChars, overlap)
	}

	var starts []int
	for _, loc := range locs {
		if loc[0] > 0 {
			starts = append(starts, loc[0])
		}
	}

	var spans []span
	prev := 0
	emit := func(lo, hi int) {
		if hi <= lo {
			return
		}
		if opts.MultiLevel && hi-lo > maxChars {
			spans = append(spans, recursiveSpans(text, lo, hi, maxChars, overlap)...)
			return
		}
		spans = append(spans, span{lo, hi})
	}
	for _, s := range starts {
		emit(prev, s)
		prev = s
	}
	emit(prev, len(text))
	return spans
}

func paragraphBoundaries(text string) []int {
	var out []int
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '\n' && text[i+1] == '\n' {
			j := i + 2
			for j < len(text) && text[j] == '\n' {
				j++
			}
			out = append(out, j)
			i = j - 1
		}
	}
	return out
}

func lineBoundaries(text string) []int {
	var out []int
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			out = append(out, i+1)
		}
	}
	return out
}

// sentenceBoundaries returns offsets just past each sentence terminator.
// CJK terminators are included for zh/ja so those languages chunk on full
// stops rather than on rare ASCII punctuation.
func sentenceBoundaries(text, language string) []int {
	cjk := language == "zh" || language == "ja"
	var out []int
	for i, r := range text {
		size := utf8.RuneLen(r)
		switch r {
		case '.', '!', '?', '…':
			end := i + size
			if end >= len(text) {
				out = append(out, end)
				continue
			}
			next, _ := utf8.DecodeRuneInString(text[end:])
			if unicode.IsSpace(next) {
				out = append(out, end)
			}
		case '。', '！', '？':
			if cjk {
				out = append(out, i+size)
			}
		}
	}
	return out
}

func wordBoundaries(text string) []int {
	var out []int
	inSpace := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			out = append(out, i)
			inSpace = false
		}
	}
	return out
}
