package engine

import (
	"math"
	"time"

	"github.com/engramhq/engram/internal/memory"
)

// compositeScore blends the four ranking signals:
//
//	score = wSem·semantic + wFb·feedback + wRec·recency + wFreq·frequency
//
// Semantic similarity comes from the vector tier; candidates seen only by
// keyword search substitute their normalized term-match ratio.
func (e *Engine) compositeScore(c *candidate, now time.Time) float64 {
	semantic := c.semantic
	if !c.hasSemantic {
		semantic = c.keyword
	}

	return e.cfg.SemanticWeight*semantic +
		e.cfg.FeedbackWeight*feedbackScore(c.rec) +
		e.cfg.RecencyWeight*recencyScore(now, c.rec.LastAccessed, e.cfg.RecencyHalfLife) +
		e.cfg.FrequencyWeight*frequencyScore(c.rec.AccessCount, e.cfg.FrequencyCap)
}

// feedbackScore is the record's confidence nudged by its aggregate thumbs
// history. Thumbs already move confidence; the aggregate term keeps a long
// history from being erased by later drift.
func feedbackScore(rec *memory.Record) float64 {
	total := rec.ThumbsUp + rec.ThumbsDown
	net := float64(rec.ThumbsUp-rec.ThumbsDown) / float64(total+1)
	return memory.Clamp01(rec.Confidence + 0.1*net)
}

// recencyScore decays exponentially with time since last access:
// 1.0 when just touched, 0.5 after one half-life.
func recencyScore(now, lastAccessed time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = 168 * time.Hour
	}
	elapsed := now.Sub(lastAccessed)
	if elapsed <= 0 {
		return 1.0
	}
	return math.Exp(-elapsed.Hours() * math.Ln2 / halfLife.Hours())
}

// frequencyScore is log-scaled access count, saturating at cap so
// over-accessed records cannot dominate ranking.
func frequencyScore(accessCount, cap int64) float64 {
	if accessCount <= 0 {
		return 0
	}
	if cap <= 0 {
		cap = 100
	}
	score := math.Log1p(float64(accessCount)) / math.Log1p(float64(cap))
	if score > 1 {
		return 1
	}
	return score
}
