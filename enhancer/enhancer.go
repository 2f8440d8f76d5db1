// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package enhancer derives a normalized summary, keywords, a category, a
// difficulty tag and paraphrased alternative questions for a raw question,
// using one generative-text call. It is the terminal error boundary for
// enrichment: Enhance never fails, it degrades to a deterministic fallback.
package enhancer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/mattermost/qacache/llm"
	"github.com/mattermost/qacache/metrics"
)

const (
	maxQuestionSummaryLength = 30
	maxAnswerSummaryLength   = 50
	maxKeywords              = 5

	// CategoryFallback is assigned when enrichment failed or the model
	// returned no category.
	CategoryFallback = "uncategorized"

	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Enhanced is the enrichment derived for one question/answer pair. It is
// ephemeral: the cache folds it into entry metadata rather than persisting
// it standalone.
type Enhanced struct {
	QuestionSummary      string   `json:"question_summary"`
	AnswerSummary        string   `json:"answer_summary"`
	Keywords             []string `json:"keywords"`
	Category             string   `json:"category"`
	Difficulty           string   `json:"difficulty"`
	AlternativeQuestions []string `json:"alternative_questions"`
}

const systemPrompt = `You are an assistant that analyzes question/answer pairs for a semantic answer cache.
Respond with a single JSON object and nothing else: no explanation, no markdown.
Summaries and paraphrases must be written in the same language as the question.`

const userPromptTemplate = `Generate enrichment data for the following question and answer pair:

Question: %[1]s

Answer: %[2]s

Return exactly this JSON shape:
{
  "question_summary": "summary of the question, at most 30 characters",
  "answer_summary": "summary of the answer, at most 50 characters",
  "keywords": ["up to five keywords"],
  "category": "a short category label",
  "difficulty": "beginner, intermediate or advanced",
  "alternative_questions": ["rephrasings of the original question"]
}

Make the alternative questions as varied as possible: use different wording and
sentence structure while keeping the meaning, so differently phrased future
questions still match.`

// Enhancer enriches questions via a language model.
type Enhancer struct {
	model   llm.LanguageModel
	log     *logrus.Logger
	metrics metrics.Metrics
}

func New(model llm.LanguageModel, log *logrus.Logger) *Enhancer {
	if log == nil {
		log = logrus.New()
	}

	return &Enhancer{
		model: model,
		log:   log,
	}
}

// WithMetrics attaches a metrics collector.
func (e *Enhancer) WithMetrics(m metrics.Metrics) *Enhancer {
	e.metrics = m
	return e
}

// Enhance enriches a question/answer pair. The answer may be empty on the
// lookup path. Any model or parse failure returns Fallback; Enhance never
// reports an error.
func (e *Enhancer) Enhance(ctx context.Context, question, answer string) Enhanced {
	if e.model == nil {
		return Fallback(question, answer)
	}

	if e.metrics != nil {
		e.metrics.IncrementLLMRequests()
	}
	response, err := e.model.ChatCompletionNoStream(ctx, llm.CompletionRequest{
		System: systemPrompt,
		User:   fmt.Sprintf(userPromptTemplate, question, answer),
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.IncrementLLMErrors()
		}
		e.log.WithError(err).Warn("Enhancement call failed, using fallback")
		return Fallback(question, answer)
	}

	enhanced, err := parseEnhanced(response)
	if err != nil {
		e.log.WithError(err).Warn("Failed to parse enhancement output, using fallback")
		return Fallback(question, answer)
	}

	normalize(&enhanced, question, answer)
	return enhanced
}

// Fallback is the deterministic enrichment used when the model is
// unavailable or produced unusable output.
func Fallback(question, answer string) Enhanced {
	return Enhanced{
		QuestionSummary:      truncate(question, maxQuestionSummaryLength),
		AnswerSummary:        truncate(answer, maxAnswerSummaryLength),
		Keywords:             []string{},
		Category:             CategoryFallback,
		Difficulty:           assessDifficulty(question),
		AlternativeQuestions: []string{},
	}
}

func parseEnhanced(response string) (Enhanced, error) {
	content := extractJSON(response)
	if content == "" || !strings.HasPrefix(content, "{") {
		return Enhanced{}, errNotAnObject
	}

	var enhanced Enhanced
	if err := json.Unmarshal([]byte(content), &enhanced); err != nil {
		return Enhanced{}, err
	}

	return enhanced, nil
}

var errNotAnObject = errors.New("enhancement output does not contain a JSON object")

// normalize fills gaps left by the model so downstream metadata is always
// fully populated.
func normalize(enhanced *Enhanced, question, answer string) {
	if enhanced.QuestionSummary == "" {
		enhanced.QuestionSummary = truncate(question, maxQuestionSummaryLength)
	}
	if enhanced.AnswerSummary == "" {
		enhanced.AnswerSummary = truncate(answer, maxAnswerSummaryLength)
	}
	if enhanced.Keywords == nil {
		enhanced.Keywords = []string{}
	}
	if len(enhanced.Keywords) > maxKeywords {
		enhanced.Keywords = enhanced.Keywords[:maxKeywords]
	}
	if enhanced.Category == "" {
		enhanced.Category = CategoryFallback
	}
	if enhanced.Difficulty == "" {
		enhanced.Difficulty = assessDifficulty(question)
	}
	if enhanced.AlternativeQuestions == nil {
		enhanced.AlternativeQuestions = []string{}
	}
}

// extractJSON strips markdown code fences from model output. Some providers
// wrap JSON in ```json...``` or ```...``` blocks.
func extractJSON(content string) string {
	lines := strings.Split(content, "\n")
	var jsonLines []string
	inCodeBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if !inCodeBlock {
				inCodeBlock = true
				continue
			}
			break
		}

		if inCodeBlock {
			jsonLines = append(jsonLines, line)
		}
	}

	if len(jsonLines) > 0 {
		return strings.TrimSpace(strings.Join(jsonLines, "\n"))
	}

	return strings.TrimSpace(content)
}

// truncate limits s to max runes, marking truncation with an ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// assessDifficulty is a keyword heuristic used when the model does not tag a
// difficulty. The Japanese markers cover the deployments this cache first
// shipped to.
func assessDifficulty(question string) string {
	lower := strings.ToLower(question)

	advanced := []string{"advanced", "competitive", "tournament", "professional", "戦術", "応用", "競技", "大会", "プロ", "高度"}
	for _, keyword := range advanced {
		if strings.Contains(lower, keyword) {
			return DifficultyAdvanced
		}
	}

	intermediate := []string{"improve", "technique", "practice method", "上達", "コツ", "改善", "練習方法"}
	for _, keyword := range intermediate {
		if strings.Contains(lower, keyword) {
			return DifficultyIntermediate
		}
	}

	beginner := []string{"beginner", "start", "basic", "simple", "初心者", "始める", "基礎", "基本", "簡単", "教えて"}
	for _, keyword := range beginner {
		if strings.Contains(lower, keyword) {
			return DifficultyBeginner
		}
	}

	return DifficultyIntermediate
}
