package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openguardrails/openguardrails-sub000/entity"
)

// ErrNoCompletion 模型未返回任何候选内容。
var ErrNoCompletion = errors.New("model returned no completion")

// complete 发起一次普通补全并返回首个候选的文本。
// 与 CheckMessages 不同，这里的失败原样上抛：实体检测器按
// 实体类型隔离失败，不做整体失效开放。
func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.0,
		MaxTokens:   maxTokens,
	}
	payload, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.cfg.BaseURL, "/")),
		bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("model returned status %d: %s", resp.StatusCode, readErrMsg(resp.Body))
	}

	var oaResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(oaResp.Choices) == 0 {
		return "", ErrNoCompletion
	}
	return strings.TrimSpace(oaResp.Choices[0].Message.Content), nil
}

// extractionResult 实体抽取的模型回复格式。
type extractionResult struct {
	Found   bool     `json:"found"`
	Results []string `json:"results"`
}

// ExtractEntities 让模型按实体描述抽取文本中的实例字面量。
// 回复必须是 {"found": bool, "results": [...]} JSON；字面量原样
// 返回，由调用方在原文中定位偏移。
func (c *Client) ExtractEntities(ctx context.Context, entityType, definition, text string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Extract all instances of the following entity type from the text.\n"+
			"Entity type: %s\n"+
			"Definition: %s\n\n"+
			"Text:\n%s\n\n"+
			"Respond with ONLY a JSON object of the form "+
			`{"found": true/false, "results": ["literal1", "literal2"]}. `+
			"Each result must be an exact substring of the text. "+
			"If nothing matches, respond with {\"found\": false, \"results\": []}.",
		entityType, definition, text)

	raw, err := c.complete(ctx, prompt, 1024)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", entityType, err)
	}

	var parsed extractionResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("extract %s: malformed reply: %w", entityType, err)
	}
	if !parsed.Found {
		return nil, nil
	}
	return parsed.Results, nil
}

// Rewrite 让模型对单个实体值做自然语言风格的改写脱敏。
func (c *Client) Rewrite(ctx context.Context, entityType, text string, style entity.Method) (string, error) {
	prompt := fmt.Sprintf(
		"Rewrite the following sensitive value of type %s as a generic, "+
			"non-identifying natural language description. "+
			"Respond with ONLY the rewritten text, no explanation.\n\nValue: %s",
		entityType, text)

	out, err := c.complete(ctx, prompt, 256)
	if err != nil {
		return "", fmt.Errorf("rewrite %s: %w", entityType, err)
	}
	return out, nil
}

// stripCodeFence 剥掉模型习惯性包裹的 markdown 代码围栏。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var (
	_ entity.Extractor = (*Client)(nil)
	_ entity.Rewriter  = (*Client)(nil)
)
