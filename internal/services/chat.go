package services

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/services/llm"
	"github.com/civictriage/backend/pkg/logger"
)

// DeclinePhrase is the fixed answer when retrieval cannot support a reply.
const DeclinePhrase = "I do not have enough information to answer that."

const maxQuestionLength = 2000

// ChatAnswer is the officer-facing reply plus the context it was grounded in.
type ChatAnswer struct {
	Answer  string         `json:"answer"`
	Sources []SimilarIssue `json:"sources"`
	// Declined is set when the fixed decline phrase was returned without
	// consulting the model.
	Declined bool `json:"declined"`
}

var smallTalkPattern = regexp.MustCompile(`^(hi|hii+|hello|hey|hey there|hiya|howdy|yo|greetings|good (morning|afternoon|evening|day)|how are you( doing)?|how's it going|what's up|sup|thanks|thank you|thanks a lot|thank you so much|thx|ty|ok|okay|cool|great|bye|goodbye|see you|cheers|namaste)( (there|assistant|bot|again|team))?$`)

// IsSmallTalk reports whether question is a greeting or pleasantry that
// should be answered without retrieved context. Compound greetings such as
// "Hello, how are you?" count when every clause is a pleasantry.
func IsSmallTalk(question string) bool {
	q := strings.ReplaceAll(strings.ToLower(question), "’", "'")
	clauses := strings.FieldsFunc(q, func(r rune) bool {
		return strings.ContainsRune(",.!?;", r)
	})

	matched := 0
	for _, clause := range clauses {
		clause = strings.Join(strings.Fields(clause), " ")
		if clause == "" {
			continue
		}
		if !smallTalkPattern.MatchString(clause) {
			return false
		}
		matched++
	}
	return matched > 0
}

// ChatService answers officer questions from similar stored issues.
type ChatService struct {
	embedder  llm.Embedder
	index     *SimilarityIndex
	generator llm.Generator
	retrieval config.RetrievalConfig
}

func NewChatService(embedder llm.Embedder, index *SimilarityIndex, generator llm.Generator, retrieval config.RetrievalConfig) *ChatService {
	return &ChatService{
		embedder:  embedder,
		index:     index,
		generator: generator,
		retrieval: retrieval,
	}
}

// Ask answers question. Small talk skips retrieval and goes straight to the
// model. Anything else with nothing retrieved gets DeclinePhrase and the
// model is not called.
func (s *ChatService) Ask(ctx context.Context, question string) (answer *ChatAnswer, err error) {
	defer func() { observeRun("chat", err) }()
	ctx = llm.WithWorkflow(ctx, "chat")

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.NewValidation("question", "is required")
	}
	if utf8.RuneCountInString(question) > maxQuestionLength {
		return nil, apperrors.NewValidation("question", "is too long")
	}

	hits := []SimilarIssue{}
	if !IsSmallTalk(question) {
		vec, err := s.embedder.Embed(ctx, question)
		if err != nil {
			return nil, err
		}
		hits, err = s.index.Search(ctx, vec, s.retrieval.Threshold, s.retrieval.TopK)
		if err != nil {
			return nil, err
		}
		metrics.RetrievalResults.WithLabelValues("chat").Observe(float64(len(hits)))

		if len(hits) == 0 {
			logger.Debug().Msg("[Chat] Nothing retrieved, declining")
			return &ChatAnswer{Answer: DeclinePhrase, Sources: hits, Declined: true}, nil
		}
	}

	text, err := s.generator.Generate(ctx, buildChatPrompt(question, hits), false)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = DeclinePhrase
	}
	return &ChatAnswer{Answer: text, Sources: hits}, nil
}
