// Package match locates the unique target span of a textual edit, tolerating
// whitespace drift between the caller's copy of the text and the file.
package match

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Fuzzy acceptance bounds. A fuzzy candidate is taken only when its
// similarity reaches acceptFloor and the runner-up trails by more than
// tieMargin, so near-ties are never silently resolved.
const (
	acceptFloor = 0.75
	tieMargin   = 0.05
)

// Kind tags the outcome of a locate attempt.
type Kind int

const (
	// NotFound means no tier produced an acceptable match.
	NotFound Kind = iota
	// Unique means exactly one exact or whitespace-normalized match.
	Unique
	// Ambiguous means the old text occurs at more than one location.
	Ambiguous
	// FuzzyAccepted means a similarity-scored match passed the
	// acceptance floor and tie margin.
	FuzzyAccepted
)

func (k Kind) String() string {
	switch k {
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	case FuzzyAccepted:
		return "fuzzy"
	default:
		return "not found"
	}
}

// Span is a half-open byte range [Start, End) into the original content.
type Span struct {
	Start int
	End   int
}

// Occurrence is one location where the old text was found, with a short
// context snippet so an ambiguous caller can refine its old text.
type Occurrence struct {
	Span    Span
	Context string
}

// Result is the tagged outcome of Locate.
type Result struct {
	Kind        Kind
	Span        Span         // valid for Unique and FuzzyAccepted
	Count       int          // valid for Ambiguous
	Confidence  float64      // valid for FuzzyAccepted
	Occurrences []Occurrence // valid for Ambiguous
}

// Locate finds the span of content that oldText refers to. Content and
// oldText are expected in LF-normalized form. The search is tiered: exact
// substring first, then whitespace-normalized, then a bounded fuzzy
// fallback. Pure function; failure is reported in the Result, never as an
// error.
func Locate(content, oldText string) Result {
	if oldText == "" {
		return Result{Kind: NotFound}
	}

	// Tier 1: exact substring.
	if occ := findAll(content, oldText); len(occ) == 1 {
		return Result{Kind: Unique, Span: occ[0].Span}
	} else if len(occ) > 1 {
		return Result{Kind: Ambiguous, Count: len(occ), Occurrences: occ}
	}

	// Tier 2: whitespace-normalized substring, mapped back to original
	// offsets.
	if r, ok := locateNormalized(content, oldText); ok {
		return r
	}

	// Tier 3: similarity-scored window scan.
	return locateFuzzy(content, oldText)
}

// findAll returns every exact occurrence of needle in content.
func findAll(content, needle string) []Occurrence {
	var occ []Occurrence
	from := 0
	for {
		i := strings.Index(content[from:], needle)
		if i < 0 {
			return occ
		}
		start := from + i
		span := Span{Start: start, End: start + len(needle)}
		occ = append(occ, Occurrence{Span: span, Context: contextAt(content, start)})
		from = start + 1
	}
}

// contextAt returns the line containing offset, truncated for display.
func contextAt(content string, offset int) string {
	start := strings.LastIndexByte(content[:offset], '\n') + 1
	end := strings.IndexByte(content[offset:], '\n')
	if end < 0 {
		end = len(content)
	} else {
		end += offset
	}
	line := content[start:end]
	const maxContext = 120
	if len(line) > maxContext {
		line = line[:maxContext] + "..."
	}
	return line
}

// normalized holds a whitespace-normalized rendering of text together with
// the original byte range each normalized byte was produced from.
type normalized struct {
	text  string
	start []int // original start offset per normalized byte
	end   []int // original end offset (exclusive) per normalized byte
}

// normalize collapses every run of spaces and tabs to a single space and
// strips trailing whitespace before each newline. Line endings are assumed
// to already be LF.
func normalize(s string) normalized {
	var b strings.Builder
	var starts, ends []int

	emit := func(c byte, start, end int) {
		b.WriteByte(c)
		starts = append(starts, start)
		ends = append(ends, end)
	}

	i := 0
	for i < len(s) {
		c := s[i]
		if c == ' ' || c == '\t' {
			runStart := i
			for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
				i++
			}
			// A run that ends the text or a line is trailing
			// whitespace and is dropped entirely.
			if i >= len(s) || s[i] == '\n' {
				continue
			}
			emit(' ', runStart, i)
			continue
		}
		emit(c, i, i+1)
		i++
	}

	return normalized{text: b.String(), start: starts, end: ends}
}

// locateNormalized retries the substring search on whitespace-normalized
// forms and maps any unique match back to original-content offsets.
func locateNormalized(content, oldText string) (Result, bool) {
	nc := normalize(content)
	no := normalize(oldText)
	if no.text == "" {
		return Result{}, false
	}

	occ := findAll(nc.text, no.text)
	switch len(occ) {
	case 0:
		return Result{}, false
	case 1:
		start := occ[0].Span.Start
		last := occ[0].Span.End - 1
		span := Span{Start: nc.start[start], End: nc.end[last]}
		return Result{Kind: Unique, Span: span}, true
	default:
		mapped := make([]Occurrence, len(occ))
		for i, o := range occ {
			span := Span{Start: nc.start[o.Span.Start], End: nc.end[o.Span.End-1]}
			mapped[i] = Occurrence{Span: span, Context: contextAt(content, span.Start)}
		}
		return Result{Kind: Ambiguous, Count: len(occ), Occurrences: mapped}, true
	}
}

// locateFuzzy scans windows of oldText's line count across content and
// scores each with a difflib similarity ratio. The best window is accepted
// only when it clears the floor and no runner-up sits within the tie
// margin.
func locateFuzzy(content, oldText string) Result {
	contentLines := splitKeepEnds(content)
	oldLines := splitKeepEnds(oldText)
	if len(oldLines) == 0 || len(contentLines) < len(oldLines) {
		return Result{Kind: NotFound}
	}

	window := len(oldLines)
	oldChars := strings.Split(oldText, "")
	ratios := make([]float64, len(contentLines)-window+1)
	best := -1.0
	bestStart := 0

	for i := range ratios {
		candidate := strings.Join(contentLines[i:i+window], "")
		ratios[i] = difflib.NewMatcher(strings.Split(candidate, ""), oldChars).Ratio()
		if ratios[i] > best {
			best = ratios[i]
			bestStart = i
		}
	}

	// The runner-up is the best window that does not overlap the winner;
	// windows shifted by a line or two share most of their content and
	// would otherwise always look like a tie.
	second := -1.0
	for i, r := range ratios {
		if i+window <= bestStart || i >= bestStart+window {
			if r > second {
				second = r
			}
		}
	}

	if best < acceptFloor || (second >= 0 && best-second <= tieMargin) {
		return Result{Kind: NotFound}
	}

	start := 0
	for _, l := range contentLines[:bestStart] {
		start += len(l)
	}
	end := start
	for _, l := range contentLines[bestStart : bestStart+window] {
		end += len(l)
	}
	return Result{Kind: FuzzyAccepted, Span: Span{Start: start, End: end}, Confidence: best}
}

// splitKeepEnds splits text into lines, each retaining its trailing
// newline, so window byte offsets can be reconstructed exactly.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			if s != "" {
				lines = append(lines, s)
			}
			return lines
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
}
