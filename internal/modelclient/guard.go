package modelclient

import "strings"

// StreamGuard is a sliding-window token observer that detects degeneration
// in a streaming generation (spec §4.C). It watches for:
//
//  (a) the same short substring repeating more than RepeatThreshold times
//      consecutively,
//  (b) cumulative token count exceeding MaxTokens without a closing JSON
//      brace having been seen,
//  (c) the same line appearing LineRepeatThreshold times in the tail
//      window.
//
// Configuration is per model tier: smaller models degenerate more readily
// and warrant a tighter window.
type StreamGuard struct {
	RepeatThreshold   int
	LineRepeatThreshold int
	MaxTokens      int
	TailWindowLines   int

	tail       []string
	lastToken     string
	repeatCount    int
	tokenCount    int
	sawClosingBrace bool
	builder      strings.Builder
}

// DefaultStreamGuard returns guard thresholds suitable for a mid-sized
// general-purpose model.
func DefaultStreamGuard() *StreamGuard {
	return &StreamGuard{
		RepeatThreshold:   8,
		LineRepeatThreshold: 4,
		MaxTokens:      4096,
		TailWindowLines:   20,
	}
}

// Observe feeds one token to the guard. It returns a non-nil
// DegenerationPattern when the token sequence should be aborted.
func (g *StreamGuard) Observe(token string) *DegenerationPattern {
	g.tokenCount++
	g.builder.WriteString(token)

	if token == g.lastToken && token != "" {
		g.repeatCount++
	} else {
		g.repeatCount = 0
		g.lastToken = token
	}
	if g.repeatCount >= g.RepeatThreshold {
		p := PatternRepeatedSubstring
		return &p
	}

	if strings.Contains(token, "}") {
		g.sawClosingBrace = true
	}
	if g.tokenCount > g.MaxTokens && !g.sawClosingBrace {
		p := PatternUnclosedJSON
		return &p
	}

	if strings.Contains(token, "\n") {
		lines := strings.Split(g.builder.String(), "\n")
		if len(lines) > 0 {
			last := lines[len(lines)-1]
			if last == "" && len(lines) > 1 {
				last = lines[len(lines)-2]
			}
			if strings.TrimSpace(last) != "" {
				g.tail = append(g.tail, last)
				if len(g.tail) > g.TailWindowLines {
					g.tail = g.tail[len(g.tail)-g.TailWindowLines:]
				}
				count := 0
				for _, l := range g.tail {
					if l == last {
						count++
					}
				}
				if count >= g.LineRepeatThreshold {
					p := PatternRepeatedLine
					return &p
				}
			}
		}
	}

	return nil
}

// PartialOutput returns everything observed so far, for inclusion in a
// DegenerationError when the guard aborts.
func (g *StreamGuard) PartialOutput() string { return g.builder.String() }

// TokensSeen returns the number of tokens observed so far.
func (g *StreamGuard) TokensSeen() int { return g.tokenCount }
