package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// CachedEmbedder keeps query embeddings in Redis so that repeated chat
// questions skip the embedding server. Cache failures fall through to the
// wrapped embedder.
type CachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	ttl    time.Duration
}

func NewCachedEmbedder(inner Embedder, client *redis.Client, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEmbedder{inner: inner, client: client, ttl: ttl}
}

func (c *CachedEmbedder) Provider() string { return ProviderOf(c.inner) }
func (c *CachedEmbedder) Model() string    { return ModelOf(c.inner) }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(ModelOf(c.inner) + "\x00" + text))
	return "embedding:" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.key(text)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float64
		if jsonErr := json.Unmarshal(data, &vec); jsonErr == nil && len(vec) > 0 {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return vec, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn().Err(err).Msg("[EmbeddingCache] read failed")
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if payload, mErr := json.Marshal(vec); mErr == nil {
		if sErr := c.client.Set(ctx, key, payload, c.ttl).Err(); sErr != nil {
			logger.Warn().Err(sErr).Msg("[EmbeddingCache] write failed")
		}
	}
	return vec, nil
}
