// Package rerank scores retrieved testimony passages before prompt
// assembly. Vector similarity alone over-selects summarized or third-party
// text, so the final score blends similarity with how much of the passage
// is told in the first person and how well the community received it.
package rerank

import (
	"sort"
	"strings"
)

// Scoring weights. Similarity dominates; first-person voice and community
// reception nudge the ordering between close candidates.
const (
	similarityWeight  = 0.6
	firstPersonWeight = 0.3
	communityWeight   = 0.1

	// communityCeiling is the community score at which the normalized
	// contribution saturates.
	communityCeiling = 100.0
)

// firstPersonPhrases is the fixed list of first-person verb phrases used to
// estimate how much of a passage is lived, first-hand telling. Matching is
// case-insensitive substring, each phrase counted at most once per passage.
var firstPersonPhrases = []string{
	"i was",
	"i am",
	"i felt",
	"i feel",
	"i had",
	"i have",
	"i remember",
	"i started",
	"i stopped",
	"i decided",
	"i realized",
	"i thought",
	"i knew",
	"i wanted",
	"i went",
	"i told",
	"my experience",
	"for me",
	"in my case",
	"happened to me",
}

// Passage is one retrieved candidate with its retrieval-time scores.
type Passage struct {
	Text string

	// Similarity is the vector-similarity score from the retriever,
	// expected in [0, 1].
	Similarity float64

	// CommunityScore is the upvote-style score attached to the source
	// post or comment. Unbounded above.
	CommunityScore float64
}

// Scored pairs a passage with its computed final score. Index is the
// passage's position in the input slice, so callers can map a ranked entry
// back to its source record even when two passages share identical text.
type Scored struct {
	Passage
	Score float64
	Index int
}

// Score computes the blended relevance score for a single passage.
func Score(p Passage) float64 {
	return similarityWeight*p.Similarity +
		firstPersonWeight*firstPersonDensity(p.Text) +
		communityWeight*normalizeCommunity(p.CommunityScore)
}

// Rank scores every passage and returns them in descending score order.
// Ties keep the passages' original relative order, so the retriever's own
// ranking breaks even matches. The input slice is not modified.
func Rank(passages []Passage) []Scored {
	scored := make([]Scored, len(passages))
	for i, p := range passages {
		scored[i] = Scored{Passage: p, Score: Score(p), Index: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Top returns the n highest-ranked passages (all of them when fewer exist).
func Top(passages []Passage, n int) []Scored {
	ranked := Rank(passages)
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// firstPersonDensity is the number of distinct first-person phrases present
// in the passage divided by its word count.
func firstPersonDensity(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, phrase := range firstPersonPhrases {
		if strings.Contains(lower, phrase) {
			matches++
		}
	}
	return float64(matches) / float64(words)
}

func normalizeCommunity(score float64) float64 {
	return min(score/communityCeiling, 1)
}
