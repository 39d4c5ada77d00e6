// Package modelclient talks to the OpenAI-compatible moderation model.
// It wraps chat completions with logprob extraction so that callers get a
// safety label plus a confidence score in one round trip.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openguardrails/openguardrails-sub000/types"
)

// SafeLabel is the model verdict for content without risk.
const SafeLabel = "safe"

// Config 检测模型客户端配置。
type Config struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	Model   string        `json:"model" yaml:"model"`
	VLModel string        `json:"vl_model" yaml:"vl_model"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// RatePerSecond caps outbound requests; 0 disables limiting
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `json:"burst" yaml:"burst"`
}

// DefaultConfig returns sensible defaults for a local detection deployment.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:8000/v1",
		Model:         "OpenGuardrails-Text",
		VLModel:       "OpenGuardrails-VL",
		Timeout:       30 * time.Second,
		RatePerSecond: 0,
		Burst:         1,
	}
}

// Client is an OpenAI-compatible HTTP client for the moderation model.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a moderation model client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.VLModel == "" {
		cfg.VLModel = cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "modelclient")),
	}
}

// OpenAI-compatible wire types. Content is either a plain string or a list
// of typed parts for multimodal messages.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	// Temperature is always sent, the moderation model must run greedy
	Temperature float64 `json:"temperature"`
	Logprobs    bool    `json:"logprobs"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type tokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

type chatLogprobs struct {
	Content []tokenLogprob `json:"content"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Logprobs *chatLogprobs `json:"logprobs,omitempty"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type apiErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *Client) buildHeaders(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp apiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}

// CheckMessages asks the moderation model to classify a conversation against
// the given category block. It returns the raw verdict label ("safe", or
// "unsafe" followed by category tags on the second line) and the confidence
// of the first generated token, computed as exp(logprob).
//
// The detection pipeline fails open: any upstream failure is logged and
// reported as a safe verdict with no confidence. Only context cancellation
// propagates as an error.
func (c *Client) CheckMessages(ctx context.Context, messages []types.Message, categories string) (string, *float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return SafeLabel, nil, err
		}
	}

	model := c.cfg.Model
	if types.HasImages(messages) {
		model = c.cfg.VLModel
	}

	body := chatRequest{
		Model:       model,
		Messages:    c.convertMessages(messages, categories),
		Temperature: 0.0,
		Logprobs:    true,
	}
	payload, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.cfg.BaseURL, "/")),
		bytes.NewReader(payload))
	if err != nil {
		return SafeLabel, nil, nil
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return SafeLabel, nil, ctx.Err()
		}
		c.logger.Warn("moderation request failed, treating as safe", zap.Error(err))
		return SafeLabel, nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.logger.Warn("moderation model returned error, treating as safe",
			zap.Int("status", resp.StatusCode),
			zap.String("msg", readErrMsg(resp.Body)))
		return SafeLabel, nil, nil
	}

	var oaResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		c.logger.Warn("moderation response decode failed, treating as safe", zap.Error(err))
		return SafeLabel, nil, nil
	}
	if len(oaResp.Choices) == 0 {
		c.logger.Warn("moderation response has no choices, treating as safe")
		return SafeLabel, nil, nil
	}

	choice := oaResp.Choices[0]
	label := strings.TrimSpace(choice.Message.Content)
	if label == "" {
		label = SafeLabel
	}
	return label, firstTokenConfidence(choice.Logprobs), nil
}

// convertMessages wraps the rendered detection prompt into a single user
// message. Image parts from the original conversation ride along so that the
// vision model can inspect them.
func (c *Client) convertMessages(messages []types.Message, categories string) []chatMessage {
	prompt := BuildDetectionPrompt(messages, categories)

	if !types.HasImages(messages) {
		return []chatMessage{{Role: "user", Content: prompt}}
	}

	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, m := range messages {
		for _, img := range m.Images {
			url := img.URL
			if img.Type == "base64" {
				url = "data:image/jpeg;base64," + img.Data
			}
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURLPart{URL: url}})
		}
	}
	return []chatMessage{{Role: "user", Content: parts}}
}

// firstTokenConfidence converts the first generated token's logprob into a
// probability. Missing logprobs yield nil, which downstream treats as an
// unconditional trigger.
func firstTokenConfidence(lp *chatLogprobs) *float64 {
	if lp == nil || len(lp.Content) == 0 {
		return nil
	}
	conf := math.Exp(lp.Content[0].Logprob)
	return &conf
}
