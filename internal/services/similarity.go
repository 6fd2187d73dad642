package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/models"
	"gorm.io/gorm"
)

// SimilarIssue is one search hit with its cosine score.
type SimilarIssue struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    *models.Category `json:"category"`
	Severity    *models.Severity `json:"severity"`
	Status      models.Status    `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	Similarity  float64          `json:"similarity"`
}

// SimilarityIndex answers nearest-neighbour queries over stored issue
// embeddings by scanning every embedded issue.
type SimilarityIndex struct {
	db *gorm.DB
}

func NewSimilarityIndex(db *gorm.DB) *SimilarityIndex {
	return &SimilarityIndex{db: db}
}

// Search returns at most topK issues whose cosine similarity to query is at
// least threshold, best first; equal scores put the newer issue first.
func (s *SimilarityIndex) Search(ctx context.Context, query []float64, threshold float64, topK int) ([]SimilarIssue, error) {
	if err := checkSearchArgs(query, threshold, topK); err != nil {
		return nil, err
	}

	var candidates []models.Issue
	err := s.db.WithContext(ctx).
		Select("id", "title", "description", "category", "severity", "status", "created_at", "embedding").
		Where("embedding IS NOT NULL").
		Find(&candidates).Error
	if err != nil {
		return nil, apperrors.Persistence("load embeddings", err)
	}

	return Rank(query, candidates, threshold, topK), nil
}

func checkSearchArgs(query []float64, threshold float64, topK int) error {
	ve := &apperrors.ValidationError{}
	if len(query) == 0 {
		ve.Add("query", "query vector is empty")
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		ve.Add("threshold", fmt.Sprintf("must be within [0,1], got %v", threshold))
	}
	if topK <= 0 {
		ve.Add("top_k", fmt.Sprintf("must be positive, got %d", topK))
	}
	if ve.Empty() {
		return nil
	}
	return ve
}

// Rank scores candidates against query. Candidates without a usable vector
// (missing, zero-length norm, or of a different dimension) are skipped.
func Rank(query []float64, candidates []models.Issue, threshold float64, topK int) []SimilarIssue {
	qNorm := models.Vector(query).Norm()
	if qNorm == 0 {
		return []SimilarIssue{}
	}

	hits := make([]SimilarIssue, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if len(c.Embedding) != len(query) {
			continue
		}
		score, ok := cosine(query, qNorm, c.Embedding)
		if !ok || score < threshold {
			continue
		}
		hits = append(hits, SimilarIssue{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			Category:    c.Category,
			Severity:    c.Severity,
			Status:      c.Status,
			CreatedAt:   c.CreatedAt,
			Similarity:  score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// CosineSimilarity returns the cosine of the angle between a and b.
// ok is false for mismatched dimensions or a zero vector.
func CosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	return cosine(a, models.Vector(a).Norm(), b)
}

func cosine(a []float64, aNorm float64, b []float64) (float64, bool) {
	var dot, bSq float64
	for i := range a {
		dot += a[i] * b[i]
		bSq += b[i] * b[i]
	}
	if aNorm == 0 || bSq == 0 {
		return 0, false
	}
	score := dot / (aNorm * math.Sqrt(bSq))
	// clamp rounding drift
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score, true
}
