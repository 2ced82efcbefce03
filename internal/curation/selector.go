package curation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/sequencer"
)

// ChatClient is the slice of the OpenAI client the selector uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ErrBadSelection means the model reply was unusable.
var ErrBadSelection = errors.New("model selection rejected")

// Selector asks a chat model for the k words that best fit a theme.
type Selector struct {
	client  ChatClient
	model   string
	timeout time.Duration
	retry   sequencer.RetryPolicy
	log     *zap.Logger
}

// SelectorOption tunes a Selector.
type SelectorOption func(*Selector)

// WithRetry bounds retries of failed chat requests. Unusable replies are
// never retried.
func WithRetry(p sequencer.RetryPolicy) SelectorOption {
	return func(s *Selector) {
		if p.MaxTries > 0 {
			s.retry = p
		}
	}
}

// LLMOptions configure NewOpenAISelector.
type LLMOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   sequencer.RetryPolicy
}

// NewOpenAISelector builds a Selector backed by the OpenAI API.
func NewOpenAISelector(opts LLMOptions, log *zap.Logger) (*Selector, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return NewSelector(openai.NewClientWithConfig(cfg), opts.Model, opts.Timeout, log, WithRetry(opts.Retry)), nil
}

func NewSelector(client ChatClient, model string, timeout time.Duration, log *zap.Logger, opts ...SelectorOption) *Selector {
	if model == "" {
		model = openai.GPT4oMini
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Selector{client: client, model: model, timeout: timeout, retry: sequencer.DefaultRetryPolicy(), log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

const selectPrompt = `You are helping build a word-grouping puzzle.
Theme: %q
Candidate words for this theme:
%s

Select exactly %d distinct candidates that best and most recognisably fit the theme.
Do not choose any of these words, which are already used elsewhere:
%s

Return ONLY a JSON array of %d strings copied from the candidate list, nothing else.`

// Choose returns exactly k distinct words from candidates. The reply must
// name only candidates and none of exclude.
func (s *Selector) Choose(ctx context.Context, theme string, candidates []string, k int, exclude []string) ([]string, error) {
	if k <= 0 || k > len(candidates) {
		return nil, fmt.Errorf("%w: cannot pick %d of %d", ErrBadSelection, k, len(candidates))
	}
	cands, _ := json.MarshalIndent(candidates, "", "  ")
	if exclude == nil {
		exclude = []string{}
	}
	excl, _ := json.Marshal(exclude)

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(selectPrompt, theme, cands, k, excl, k)},
		},
		MaxTokens:   200,
		Temperature: 0,
	}
	s.log.Debug("requesting word selection", zap.String("model", s.model), zap.String("theme", theme), zap.Int("candidates", len(candidates)))
	return backoff.Retry(ctx, func() ([]string, error) {
		resp, err := s.complete(ctx, req)
		if err != nil {
			err = fmt.Errorf("chat completion: %w", err)
			if !retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("%w: no choices returned", ErrBadSelection))
		}
		picked, err := parseSelection(resp.Choices[0].Message.Content, candidates, k, exclude)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return picked, nil
	}, s.retryOpts(theme)...)
}

// complete sends one request, bounded by the per-request timeout.
func (s *Selector) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.client.CreateChatCompletion(ctx, req)
}

func (s *Selector) retryOpts(theme string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		b.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxInterval > 0 {
		b.MaxInterval = s.retry.MaxInterval
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.retry.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.Warn("retrying word selection", zap.String("theme", theme), zap.Error(err), zap.Duration("wait", wait))
		}),
	}
}

// retryable reports whether a failed request may succeed on a later try.
// Client errors other than timeouts and rate limits will not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	if code >= 400 && code < 500 {
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}
	return true
}

func parseSelection(content string, candidates []string, k int, exclude []string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var picked []string
	if err := json.Unmarshal([]byte(content), &picked); err != nil {
		// Some models wrap the array in an object.
		var wrapped struct {
			Words []string `json:"words"`
		}
		if err2 := json.Unmarshal([]byte(content), &wrapped); err2 != nil || wrapped.Words == nil {
			return nil, fmt.Errorf("%w: reply is not a JSON array: %v", ErrBadSelection, err)
		}
		picked = wrapped.Words
	}
	if len(picked) != k {
		return nil, fmt.Errorf("%w: got %d words, want %d", ErrBadSelection, len(picked), k)
	}

	byNorm := make(map[string]string, len(candidates))
	for _, c := range candidates {
		byNorm[domain.NormalizeWord(c)] = c
	}
	banned := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		banned[domain.NormalizeWord(e)] = true
	}
	seen := make(map[string]bool, k)
	out := make([]string, 0, k)
	for _, p := range picked {
		n := domain.NormalizeWord(p)
		orig, ok := byNorm[n]
		switch {
		case !ok:
			return nil, fmt.Errorf("%w: %q is not a candidate", ErrBadSelection, p)
		case banned[n]:
			return nil, fmt.Errorf("%w: %q is already used", ErrBadSelection, p)
		case seen[n]:
			return nil, fmt.Errorf("%w: %q repeated", ErrBadSelection, p)
		}
		seen[n] = true
		out = append(out, orig)
	}
	return out, nil
}
