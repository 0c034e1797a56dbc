// Package classify scores task descriptions and picks a delegation strategy.
package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Strategy is the classifier's routing decision.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyDecompose Strategy = "decompose"
)

// Thresholds are the score cut points on the 0-100 scale. Scores below Low
// route directly with no agent spawned; decomposition is recommended only
// at High and above. Anything in between is borderline and routes direct.
type Thresholds struct {
	Low  int
	High int
}

// DefaultThresholds are tuned so that single-verb one-file tasks stay
// direct while cross-cutting multi-file work decomposes.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 20, High: 40}
}

// Decision is the classification outcome.
type Decision struct {
	Strategy   Strategy `json:"strategy"`
	Targets    []string `json:"targets,omitempty"`
	Score      int      `json:"score"`
	Confidence float64  `json:"confidence"`
}

// Signal weights. Cross-cutting scope is the strongest decomposition
// indicator; verb class and file count are secondary.
const (
	weightCross = 4
	weightVerb  = 3
	weightFiles = 3

	maxBucket = 3
)

// Classifier scores free-text task descriptions. It holds no state beyond
// compiled patterns and thresholds; Classify is deterministic and never
// fails on malformed input.
type Classifier struct {
	thresholds Thresholds
	known      map[string]struct{}

	crossPatterns    []*regexp.Regexp
	featurePatterns  []*regexp.Regexp
	refactorPatterns []*regexp.Regexp
	debugPatterns    []*regexp.Regexp
	fileCountPattern *regexp.Regexp
	filesPattern     *regexp.Regexp
}

// New creates a Classifier. knownAgentTypes bounds the target list; types
// the registry cannot spawn are never recommended.
func New(thresholds Thresholds, knownAgentTypes []string) *Classifier {
	known := make(map[string]struct{}, len(knownAgentTypes))
	for _, t := range knownAgentTypes {
		known[t] = struct{}{}
	}

	return &Classifier{
		thresholds: thresholds,
		known:      known,
		crossPatterns: compilePatterns([]string{
			`\b(across|throughout|everywhere)\b`,
			`\b(all|every|entire)\s+(files?|modules?|packages?|services?|components?)\b`,
			`\b(cross[- ]cutting|end[- ]to[- ]end|system[- ]wide|codebase[- ]wide)\b`,
			`\b(multiple|several|many)\s+(files?|modules?|packages?|places?)\b`,
		}),
		featurePatterns: compilePatterns([]string{
			`\b(implement|implementing|add|adding|build|building|create|creating)\b`,
			`\b(new\s+)?(feature|endpoint|api|page|component|command)\b`,
		}),
		refactorPatterns: compilePatterns([]string{
			`\b(refactor|refactoring|restructure|reorganize|reorganise)\b`,
			`\b(rename|renaming|extract|extracting|migrate|migrating)\b`,
			`\b(clean\s*up|cleanup|simplify)\b`,
		}),
		debugPatterns: compilePatterns([]string{
			`\b(fix|fixing|debug|debugging|resolve|resolving|patch)\b`,
			`\b(bug|crash|broken|regression|flaky|failing)\b`,
		}),
		fileCountPattern: regexp.MustCompile(`\b(\d+)\s+files?\b`),
		filesPattern:     regexp.MustCompile(`\bfiles\b`),
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if r, err := regexp.Compile("(?i)" + p); err == nil {
			compiled = append(compiled, r)
		}
	}
	return compiled
}

// Classify scores task and returns the routing decision. Worst case the
// conservative direct strategy is returned; empty or garbage input scores
// zero and routes direct.
func (c *Classifier) Classify(task string) Decision {
	lower := strings.ToLower(strings.TrimSpace(task))
	if lower == "" {
		return Decision{Strategy: StrategyDirect, Score: 0, Confidence: 1}
	}

	cross := bucket(countMatches(lower, c.crossPatterns))
	verbs := c.verbBucket(lower)
	files := c.fileBucket(lower)

	weighted := cross*weightCross + verbs*weightVerb + files*weightFiles
	maxWeighted := maxBucket * (weightCross + weightVerb + weightFiles)
	score := weighted * 100 / maxWeighted

	if score >= c.thresholds.High {
		return Decision{
			Strategy:   StrategyDecompose,
			Targets:    c.targets(lower),
			Score:      score,
			Confidence: float64(score) / 100,
		}
	}

	// Below Low, and borderline in between: prefer direct to minimize
	// unnecessary fan-out.
	return Decision{
		Strategy:   StrategyDirect,
		Score:      score,
		Confidence: 1 - float64(score)/100,
	}
}

// verbBucket counts how many verb classes (feature, refactor, debug) the
// task mentions.
func (c *Classifier) verbBucket(lower string) int {
	n := 0
	if anyMatch(lower, c.featurePatterns) {
		n++
	}
	if anyMatch(lower, c.refactorPatterns) {
		n++
	}
	if anyMatch(lower, c.debugPatterns) {
		n++
	}
	return n
}

// fileBucket scores file-count-like signals 1/2/3 for low/medium/high.
func (c *Classifier) fileBucket(lower string) int {
	best := 0
	for _, m := range c.fileCountPattern.FindAllStringSubmatch(lower, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch {
		case n >= 6:
			best = max(best, 3)
		case n >= 3:
			best = max(best, 2)
		case n >= 2:
			best = max(best, 1)
		}
	}
	if best == 0 && c.filesPattern.MatchString(lower) {
		best = 1
	}
	return best
}

// targets picks agent types for decomposition from the matched verb
// classes, restricted to types the registry knows.
func (c *Classifier) targets(lower string) []string {
	want := make(map[string]struct{})
	if anyMatch(lower, c.debugPatterns) || anyMatch(lower, c.refactorPatterns) {
		want["scout"] = struct{}{}
	}
	if anyMatch(lower, c.featurePatterns) || anyMatch(lower, c.refactorPatterns) {
		want["builder"] = struct{}{}
	}
	if len(want) == 0 {
		want["builder"] = struct{}{}
	}

	out := make([]string, 0, len(want))
	for t := range want {
		if _, ok := c.known[t]; ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func countMatches(input string, patterns []*regexp.Regexp) int {
	count := 0
	for _, p := range patterns {
		if p.MatchString(input) {
			count++
		}
	}
	return count
}

func anyMatch(input string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

func bucket(n int) int {
	if n > maxBucket {
		return maxBucket
	}
	return n
}
