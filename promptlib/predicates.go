package promptlib

import (
	"regexp"
	"strings"
)

// Built-in structural predicates, generalized from the teacher's
// Claude-Code-specific line classifiers into named, assistant-agnostic
// building blocks; a pattern file selects one with its "builtin:" entry.

var (
	workingGlyphRE = regexp.MustCompile(`^[✻✽✶∴·○◆▪▫□■☐☑☒★☆✓✔✗✘⚬⚫⚪⬤◯▸▹►▻◂◃◄◅✢*]\s+.+…\s*\(esc\s+to\s+interrupt`)
	approvalBoxRE  = regexp.MustCompile(`^←.*→\s*$`)
	arrowOptionRE  = regexp.MustCompile(`^❯\s+(\d+)\.\s*(.*)$`)
	tipLinePrefix  = "  ⎿  Tip: "
)

// IsSeparatorLine reports whether line is a full-width box-drawing
// separator (cols repetitions of "─"), the boundary the teacher's
// approval-box detector anchors on.
func IsSeparatorLine(line string, cols int) bool {
	if cols <= 0 {
		return false
	}
	return line == strings.Repeat("─", cols)
}

// IsWorkingLine reports whether line is the assistant's "busy" indicator
// (a status glyph followed by an ellipsis and "(esc to interrupt").
// Library.Detect does not call it, and no pattern builtin selects it.
func IsWorkingLine(line string) bool {
	return workingGlyphRE.MatchString(line)
}

// IsTipLine reports the "  ⎿  Tip: " marker line.
func IsTipLine(line string) bool {
	return strings.HasPrefix(line, tipLinePrefix)
}

// IsApprovalBoxBorder reports a "←...→" box edge line, the marker used to
// locate an approval/selection box's boundaries.
func IsApprovalBoxBorder(line string) bool {
	return approvalBoxRE.MatchString(line)
}

// ArrowOption parses a "❯ N. label" menu line into its 1-based index and
// label; ok is false if line does not match.
func ArrowOption(line string) (index int, label string, ok bool) {
	m := arrowOptionRE.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	return n, strings.TrimSpace(m[2]), true
}

// DetectApprovalBox scans lines (most recent last) for a box-drawing
// approval prompt: a separator line, a "←...→" border, then a run of
// "❯ N. label" options, generalizing the teacher's detectStateApproval
// case 1/2. Returns the extracted options in source order if found.
func DetectApprovalBox(lines []string) ([]Option, bool) {
	cols := widestLine(lines)
	var collected []Option
	for i := len(lines) - 1; i >= 0; i-- {
		if idx, label, ok := ArrowOption(lines[i]); ok {
			collected = append([]Option{{Index: idx - 1, Label: label}}, collected...)
			continue
		}
		if len(collected) > 0 {
			// Run of arrow options ended; confirm it sits above an
			// approval border sitting above a separator.
			if IsApprovalBoxBorder(lines[i]) && i > 0 && IsSeparatorLine(lines[i-1], cols) {
				return collected, true
			}
			return nil, false
		}
	}
	return nil, false
}

func widestLine(lines []string) int {
	max := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > max {
			max = n
		}
	}
	return max
}
