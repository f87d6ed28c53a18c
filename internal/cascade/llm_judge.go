package cascade

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/evalx/searcheval/internal/llm"
	"github.com/evalx/searcheval/internal/provider"
)

const judgeSystemPrompt = `You are a search quality rater. Given a query and a list of search results, rate how relevant the result set is to the query. Respond with exactly three lines:
RELEVANCE: <0.0-1.0>
CONFIDENCE: <0.0-1.0>
EXPLANATION: <one sentence>`

// maxResultsInPrompt caps how many results are shown to the model.
const maxResultsInPrompt = 5

// LLMJudge asks an LLM to rate result-set relevance. It sits behind the
// heuristic judge in the cascade and its verdicts are accepted whenever the
// call succeeds.
type LLMJudge struct {
	client llm.LLM
	model  string
}

// NewLLMJudge creates an LLM judge using the given client and model.
func NewLLMJudge(client llm.LLM, model string) *LLMJudge {
	return &LLMJudge{client: client, model: model}
}

// Name returns "llm".
func (j *LLMJudge) Name() string { return JudgeTypeLLM }

// Evaluate prompts the model and parses the RELEVANCE/CONFIDENCE/EXPLANATION
// lines. A response that cannot be parsed yields a neutral low-confidence
// verdict rather than an error, so the cascade does not fall through on a
// chatty model.
func (j *LLMJudge) Evaluate(ctx context.Context, query string, results []provider.SearchResult) (Result, error) {
	prompt := buildJudgePrompt(query, results)

	raw, err := j.client.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        j.model,
		SystemPrompt: judgeSystemPrompt,
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm judge failed: %w", err)
	}

	relevance, confidence, explanation, ok := parseJudgeResponse(raw)
	if !ok {
		return Result{
			RelevanceScore: 0.5,
			Confidence:     0,
			JudgeType:      JudgeTypeLLM,
			Metadata:       map[string]any{"parse_error": true},
		}, nil
	}

	return Result{
		RelevanceScore: relevance,
		Confidence:     confidence,
		JudgeType:      JudgeTypeLLM,
		Metadata:       map[string]any{"explanation": explanation},
	}, nil
}

func buildJudgePrompt(query string, results []provider.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nResults:\n", query)
	n := len(results)
	if n > maxResultsInPrompt {
		n = maxResultsInPrompt
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, results[i].Title, results[i].Snippet)
	}
	if n == 0 {
		b.WriteString("(no results)\n")
	}
	return b.String()
}

// parseJudgeResponse extracts the scored lines. It tolerates extra prose
// around them but requires both numeric lines to be present and parseable.
func parseJudgeResponse(raw string) (relevance, confidence float64, explanation string, ok bool) {
	var haveRel, haveConf bool
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "RELEVANCE:"):
			if v, err := parseScore(line); err == nil {
				relevance, haveRel = v, true
			}
		case strings.HasPrefix(strings.ToUpper(line), "CONFIDENCE:"):
			if v, err := parseScore(line); err == nil {
				confidence, haveConf = v, true
			}
		case strings.HasPrefix(strings.ToUpper(line), "EXPLANATION:"):
			explanation = strings.TrimSpace(line[len("EXPLANATION:"):])
		}
	}
	if !haveRel || !haveConf {
		return 0, 0, "", false
	}
	return clamp01(relevance), clamp01(confidence), explanation, true
}

func parseScore(line string) (float64, error) {
	_, after, found := strings.Cut(line, ":")
	if !found {
		return 0, fmt.Errorf("no separator in %q", line)
	}
	return strconv.ParseFloat(strings.TrimSpace(after), 64)
}

var _ Judge = (*LLMJudge)(nil)
