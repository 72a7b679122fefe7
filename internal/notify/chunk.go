package notify

import "strings"

// ChunkConfig controls how outbound payloads are split when they exceed
// a sink's maximum message length.
type ChunkConfig struct {
	// MaxLength is the maximum number of bytes per chunk.
	// A value <= 0 means no splitting.
	MaxLength int

	// PreserveBlocks avoids splitting inside fenced code blocks (``` ... ```).
	// When true, a code block that fits within MaxLength is kept intact even
	// if it would otherwise be split at a line boundary.
	PreserveBlocks bool
}

// Split breaks text into chunks that each respect cfg.MaxLength, splitting
// at line boundaries where possible. If the text already fits, a
// single-element slice is returned.
func Split(text string, cfg ChunkConfig) []string {
	if cfg.MaxLength <= 0 || len(text) <= cfg.MaxLength {
		return []string{text}
	}

	lines := strings.Split(text, "\n")

	var chunks []string
	var current strings.Builder

	inCodeBlock := false

	for _, line := range lines {
		lineWithNewline := line + "\n"

		isFence := strings.HasPrefix(strings.TrimSpace(line), "```")

		// Track fenced code block boundaries.
		// The flag is updated after the overflow check so that the closing
		// fence is still considered "inside" the code block.
		wasInCodeBlock := inCodeBlock
		if isFence {
			inCodeBlock = !inCodeBlock
		}

		if current.Len()+len(lineWithNewline) > cfg.MaxLength {
			// When preserving blocks and inside a code block (including the
			// closing fence line), keep accumulating until the block ends,
			// but only while the accumulated text still has a chance to fit
			// (< 2x limit as a safety valve).
			stillInBlock := wasInCodeBlock || (isFence && !inCodeBlock)
			if cfg.PreserveBlocks && stillInBlock && current.Len() < cfg.MaxLength*2 {
				current.WriteString(lineWithNewline)
				continue
			}

			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
				current.Reset()
			}

			// A single line longer than MaxLength is force-split.
			if len(lineWithNewline) > cfg.MaxLength {
				chunks = append(chunks, forceSplit(line, cfg.MaxLength)...)
				continue
			}
		}

		current.WriteString(lineWithNewline)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
	}

	return chunks
}

// forceSplit breaks a single long line into chunks of at most maxLen bytes.
func forceSplit(line string, maxLen int) []string {
	var parts []string
	for len(line) > maxLen {
		parts = append(parts, line[:maxLen])
		line = line[maxLen:]
	}
	if len(line) > 0 {
		parts = append(parts, line)
	}
	return parts
}
