package llm

import (
	"context"
	"time"

	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/models"
)

// UsageRecorder persists one row per model call.
type UsageRecorder interface {
	Record(log *models.AIUsageLog)
}

type workflowKey struct{}

// WithWorkflow tags ctx so usage rows can be attributed to a workflow.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowKey{}, name)
}

func workflowFrom(ctx context.Context) string {
	name, _ := ctx.Value(workflowKey{}).(string)
	return name
}

type instrumentedEmbedder struct {
	inner    Embedder
	recorder UsageRecorder
}

// InstrumentEmbedder records latency and outcome of every call. recorder may be nil.
func InstrumentEmbedder(e Embedder, recorder UsageRecorder) Embedder {
	return &instrumentedEmbedder{inner: e, recorder: recorder}
}

func (i *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	vec, err := i.inner.Embed(ctx, text)
	observe(ctx, i.recorder, i.inner, "embed", len(text), 0, time.Since(start), err)
	return vec, err
}

func (i *instrumentedEmbedder) Provider() string { return ProviderOf(i.inner) }
func (i *instrumentedEmbedder) Model() string    { return ModelOf(i.inner) }

type instrumentedGenerator struct {
	inner    Generator
	recorder UsageRecorder
}

func InstrumentGenerator(g Generator, recorder UsageRecorder) Generator {
	return &instrumentedGenerator{inner: g, recorder: recorder}
}

func (i *instrumentedGenerator) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	start := time.Now()
	out, err := i.inner.Generate(ctx, prompt, jsonMode)
	observe(ctx, i.recorder, i.inner, "generate", len(prompt), len(out), time.Since(start), err)
	return out, err
}

func (i *instrumentedGenerator) Provider() string { return ProviderOf(i.inner) }
func (i *instrumentedGenerator) Model() string    { return ModelOf(i.inner) }

func observe(ctx context.Context, recorder UsageRecorder, client interface{}, op string, in, out int, elapsed time.Duration, err error) {
	provider := ProviderOf(client)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ModelCallDuration.WithLabelValues(provider, op).Observe(elapsed.Seconds())
	metrics.ModelCallTotal.WithLabelValues(provider, op, status).Inc()

	if recorder == nil {
		return
	}
	entry := &models.AIUsageLog{
		Provider:    provider,
		Model:       ModelOf(client),
		Operation:   op,
		Workflow:    workflowFrom(ctx),
		PromptChars: in,
		OutputChars: out,
		LatencyMs:   elapsed.Milliseconds(),
		Success:     err == nil,
	}
	if err != nil {
		entry.ErrorMessage = truncate(err.Error(), 480)
	}
	recorder.Record(entry)
}
