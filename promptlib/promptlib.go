// Package promptlib implements the Prompt Detector (C3): classifying a
// text snapshot into a Prompt given a data-driven pattern library. The
// structural predicates (separator lines, working-task glyphs, approval
// boxes, numbered-menu arrows) generalize the Claude-Code-specific
// detector the teacher shipped (utils/ai_assistant2/claude_code) into
// named, reusable building blocks any pattern file can reference.
package promptlib

import (
	"errors"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

// ErrLibraryInvalid is fatal at startup per spec.md §7 (exit code 1).
var ErrLibraryInvalid = errors.New("promptlib: pattern library invalid")

// Kind mirrors spec.md §3's PromptKind enum.
type Kind string

const (
	KindYesNo             Kind = "yes_no"
	KindNumberedSelection Kind = "numbered_selection"
	KindBinarySelection   Kind = "binary_selection"
	KindTrustWorkspace    Kind = "trust_workspace"
	KindContinuation      Kind = "continuation"
	KindLogin             Kind = "login"
	KindUnknown           Kind = "unknown"
)

// Option is one extracted candidate response, 0-based index per spec.md
// §4.3 ("index 1-based in the source, 0-based in Prompt.Options").
type Option struct {
	Index int
	Label string
}

// Prompt is the detector's output (spec.md §3).
type Prompt struct {
	Kind        Kind
	Text        string
	Options     []Option
	Fingerprint string
}

// Fingerprint hashes (kind, skeleton, option count) as required by
// spec.md §4.3: two textually different prompts meaning the same thing
// must collide, two differing in any of those three components must not
// (modulo hash strength).
func Fingerprint(kind Kind, skeleton string, optionCount int) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(kind)))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(skeleton))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(strconv.Itoa(optionCount)))
	return strconv.FormatUint(h.Sum64(), 16)
}

var (
	numberRun    = regexp.MustCompile(`\d+`)
	whitespaceRE = regexp.MustCompile(`\s+`)
	ansiRE       = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")
	boxDrawingRE = regexp.MustCompile(`[─│┌┐└┘├┤┬┴┼━┃┏┓┗┛┣┫┳┻╋]`)
)

// Normalize strips ANSI escapes and box-drawing characters and collapses
// whitespace runs to single spaces, per spec.md §4.3. It does not
// lowercase: matching stays case-sensitive, only the fingerprint
// skeleton lowercases.
func Normalize(line string) string {
	s := ansiRE.ReplaceAllString(line, "")
	s = boxDrawingRE.ReplaceAllString(s, "")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Skeleton builds the fingerprinting skeleton: normalized, lowercased,
// with numeric runs and each option's label replaced by a placeholder so
// that two invocations of the same question with different enumerated
// files share a fingerprint.
func Skeleton(normalizedText string, options []Option) string {
	s := strings.ToLower(normalizedText)
	for _, opt := range options {
		label := strings.ToLower(strings.TrimSpace(opt.Label))
		if label == "" {
			continue
		}
		s = strings.ReplaceAll(s, label, "#")
	}
	s = numberRun.ReplaceAllString(s, "#")
	return s
}
