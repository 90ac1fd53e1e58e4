package promptlib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EngineVersion is this binary's pattern-engine version; pattern
// manifests may declare a minEngine constraint gating their load, the
// same version-gate habit the teacher applies to update checks.
var EngineVersion = semver.MustParse("1.0.0")

// patternFile is the on-disk shape of one pattern, per spec.md §6: a
// directory tree grouping patterns by kind, each file a matcher, an
// option-extraction recipe, and a priority (lower matches first).
type patternFile struct {
	Kind        Kind   `yaml:"kind"`
	Priority    int    `yaml:"priority"`
	Regex       string `yaml:"pattern,omitempty"`
	Builtin     string `yaml:"builtin,omitempty"` // "approval_box" or "continuation"; other values select no builtin
	FixedOption string `yaml:"fixed_options,omitempty"`
	MinEngine   string `yaml:"min_engine,omitempty"`
}

// Pattern is a compiled, ready-to-match entry.
type Pattern struct {
	Kind     Kind
	Priority int
	regex    *regexp.Regexp
	builtin  string
}

// Library is the loaded, priority-ordered set of patterns; build one
// with NewLibrary. An empty library matches nothing: Detect yields Unknown
// (ok false) for every text.
type Library struct {
	patterns atomic.Pointer[[]Pattern]
	logger   *zap.Logger
}

// NewLibrary returns an empty library.
func NewLibrary(logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	empty := []Pattern{}
	l := &Library{logger: logger}
	l.patterns.Store(&empty)
	return l
}

// Load walks dir's kind subdirectories (yes_no/, numbered/, binary/,
// continuation/, trust_workspace/, login/), compiling every *.yaml file
// found and replacing the library's active pattern set atomically.
// Malformed files are fatal (ErrLibraryInvalid).
func (l *Library) Load(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn("promptlib: pattern directory does not exist, library empty", zap.String("dir", dir))
			return nil
		}
		return fmt.Errorf("%w: %v", ErrLibraryInvalid, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrLibraryInvalid, dir)
	}

	var compiled []Pattern
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !(strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrLibraryInvalid, path, err)
		}
		var pf patternFile
		if err := yaml.Unmarshal(raw, &pf); err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrLibraryInvalid, path, err)
		}
		if pf.MinEngine != "" {
			constraint, err := semver.NewConstraint(pf.MinEngine)
			if err != nil {
				return fmt.Errorf("%w: %s: bad min_engine constraint %q: %v", ErrLibraryInvalid, path, pf.MinEngine, err)
			}
			if !constraint.Check(EngineVersion) {
				l.logger.Warn("promptlib: skipping pattern incompatible with engine version",
					zap.String("path", path), zap.String("min_engine", pf.MinEngine))
				return nil
			}
		}
		p := Pattern{Kind: pf.Kind, Priority: pf.Priority, builtin: pf.Builtin}
		if pf.Regex != "" {
			re, err := regexp.Compile(pf.Regex)
			if err != nil {
				return fmt.Errorf("%w: %s: bad pattern regex: %v", ErrLibraryInvalid, path, err)
			}
			p.regex = re
		}
		if p.Kind == "" {
			return fmt.Errorf("%w: %s: missing kind", ErrLibraryInvalid, path)
		}
		compiled = append(compiled, p)
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	sort.SliceStable(compiled, func(i, j int) bool { return compiled[i].Priority < compiled[j].Priority })
	l.patterns.Store(&compiled)
	l.logger.Info("promptlib: pattern library loaded", zap.Int("count", len(compiled)), zap.String("dir", dir))
	return nil
}

// Watch hot-reloads the library on any filesystem write under dir,
// generalizing the hot-reload-without-restart habit the teacher applies
// to its terminal session config. Runs until ctx is cancelled.
func (l *Library) Watch(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("promptlib: watch: %w", err)
	}
	defer watcher.Close()

	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = watcher.Add(path)
		}
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := l.Load(dir); err != nil {
					l.logger.Error("promptlib: hot reload failed, keeping previous library", zap.Error(err))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("promptlib: watcher error", zap.Error(err))
		}
	}
}

// Detect classifies the trailing recentLines lines of text into zero or
// one Prompt, per spec.md §4.3: first-match-wins over the
// priority-ordered pattern list, inspecting only the tail (history is
// noise) and trimming ANSI/box-drawing before matching.
func (l *Library) Detect(text string, recentLines int) (Prompt, bool) {
	lines := strings.Split(text, "\n")
	if recentLines > 0 && len(lines) > recentLines {
		lines = lines[len(lines)-recentLines:]
	}
	normalized := make([]string, len(lines))
	for i, l2 := range lines {
		normalized[i] = Normalize(l2)
	}

	patterns := *l.patterns.Load()
	for _, p := range patterns {
		if prompt, ok := l.matchPattern(p, normalized); ok {
			return prompt, true
		}
	}
	return Prompt{Kind: KindUnknown}, false
}

func (l *Library) matchPattern(p Pattern, lines []string) (Prompt, bool) {
	switch {
	case p.builtin == "approval_box":
		options, ok := DetectApprovalBox(lines)
		if !ok {
			return Prompt{}, false
		}
		return buildPrompt(p.Kind, strings.Join(lines, "\n"), options), true
	case p.builtin == "continuation":
		for _, line := range lines {
			if p.regex != nil && p.regex.MatchString(line) {
				return buildPrompt(p.Kind, line, nil), true
			}
		}
		return Prompt{}, false
	case p.regex != nil:
		for i := len(lines) - 1; i >= 0; i-- {
			if p.regex.MatchString(lines[i]) {
				return buildPrompt(p.Kind, lines[i], extractYesNoOptions(p.Kind, lines[i])), true
			}
		}
		return Prompt{}, false
	default:
		return Prompt{}, false
	}
}

func extractYesNoOptions(kind Kind, line string) []Option {
	switch kind {
	case KindYesNo, KindTrustWorkspace:
		if strings.Contains(strings.ToLower(line), "yes") && strings.Contains(strings.ToLower(line), "no") {
			return []Option{{Index: 0, Label: "yes"}, {Index: 1, Label: "no"}}
		}
		return []Option{{Index: 0, Label: "y"}, {Index: 1, Label: "n"}}
	default:
		return nil
	}
}

func buildPrompt(kind Kind, text string, options []Option) Prompt {
	normalized := Normalize(text)
	skeleton := Skeleton(normalized, options)
	return Prompt{
		Kind:        kind,
		Text:        text,
		Options:     options,
		Fingerprint: Fingerprint(kind, skeleton, len(options)),
	}
}
