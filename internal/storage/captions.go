package storage

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// TokenCounter measures and truncates captions in model tokens.
type TokenCounter interface {
	CountTokens(text string) int
	TruncateTokens(text string, maxTokens int) string
}

// CaptionPolicy decides which caption variant represents a path.
type CaptionPolicy struct {
	MaxTokens int
	Tokens    TokenCounter
}

// DefaultCaptionPolicy allows 77 whitespace-delimited tokens.
func DefaultCaptionPolicy() CaptionPolicy {
	return CaptionPolicy{MaxTokens: 77, Tokens: wordTokens{}}
}

// Select returns the first variant within MaxTokens, or the first variant truncated to it.
func (p CaptionPolicy) Select(variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	tokens := p.Tokens
	if tokens == nil {
		tokens = wordTokens{}
	}
	if p.MaxTokens <= 0 {
		return variants[0]
	}
	for _, v := range variants {
		if tokens.CountTokens(v) <= p.MaxTokens {
			return v
		}
	}
	return tokens.TruncateTokens(variants[0], p.MaxTokens)
}

type wordTokens struct{}

func (wordTokens) CountTokens(text string) int { return len(strings.Fields(text)) }

func (wordTokens) TruncateTokens(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}

// captionLine matches "<path>#<n>" optionally followed by whitespace and the caption.
var captionLine = regexp.MustCompile(`^(.+?)#(\d+)(?:[ \t](.*))?$`)

// captionMarker matches one "#<n>" variant marker ending the path part of a line.
var captionMarker = regexp.MustCompile(`#\d+(?:[ \t]|$)`)

// ParseCaptions reads "<path>#<n> <caption>" lines. A path may appear several times with
// different variants; policy picks one. Lines without a "#<n>" marker are read as
// "<path> <caption>". Blank lines are skipped and blank captions are kept.
// A path that itself contains "#<n> " splits at the first marker; use ParseCaptionsFor
// when the path list is known.
func ParseCaptions(r io.Reader, policy CaptionPolicy) (map[string]string, error) {
	return ParseCaptionsFor(r, policy, nil)
}

// ParseCaptionsFor is ParseCaptions with the set of valid paths known. Each line splits at
// the last marker whose prefix is one of paths, so paths containing "#<n> " keep their
// captions. Lines matching no known path fall back to the first marker.
func ParseCaptionsFor(r io.Reader, policy CaptionPolicy, paths []string) (map[string]string, error) {
	var known map[string]bool
	if len(paths) > 0 {
		known = make(map[string]bool, len(paths))
		for _, p := range paths {
			known[p] = true
		}
	}
	variants := make(map[string][]string)
	var order []string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		path, caption := splitCaptionLine(line, known)
		caption = strings.TrimSpace(caption)
		if _, seen := variants[path]; !seen {
			order = append(order, path)
		}
		variants[path] = append(variants[path], caption)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read captions: %w", err)
	}

	captions := make(map[string]string, len(order))
	for _, path := range order {
		captions[path] = policy.Select(variants[path])
	}
	return captions, nil
}

func splitCaptionLine(line string, known map[string]bool) (path, caption string) {
	if known != nil {
		locs := captionMarker.FindAllStringIndex(line, -1)
		for i := len(locs) - 1; i >= 0; i-- {
			if p := line[:locs[i][0]]; known[p] {
				return p, line[locs[i][1]:]
			}
		}
		if known[line] {
			return line, ""
		}
	}
	if m := captionLine.FindStringSubmatch(line); m != nil {
		return m[1], m[3]
	}
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i], line[i+1:]
	}
	return line, ""
}

// WriteCaptions writes one "<path>#0 <caption>" line per path, in order. Paths without a
// caption get an empty one. Line breaks inside captions become spaces.
func WriteCaptions(w io.Writer, paths []string, captions map[string]string) error {
	bw := bufio.NewWriter(w)
	for _, p := range paths {
		caption := strings.Join(strings.FieldsFunc(captions[p], func(r rune) bool {
			return r == '\n' || r == '\r'
		}), " ")
		if _, err := fmt.Fprintf(bw, "%s#0 %s\n", p, caption); err != nil {
			return fmt.Errorf("write captions: %w", err)
		}
	}
	return bw.Flush()
}
