package llm

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"

	xerrors "StoryAI/internal/errors"
)

// ErrUnstructured 表示模型返回的内容无法解析为 JSON。
var ErrUnstructured = stdErrors.New("llm: response is not valid JSON")

// RawResponseKey 是无法解析时保存原始文本的字段名。
const RawResponseKey = "raw_response"

// GenerateText 发送单条提示词并返回模型的原始文本。
func GenerateText(ctx context.Context, c Client, prompt string, temperature float64) (string, error) {
	if c == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "llm client not configured")
	}
	resp, err := c.Generate(ctx, Request{Prompt: prompt, Temperature: temperature})
	if err != nil {
		return "", asLLMError(err)
	}
	if resp == nil {
		return "", xerrors.New(xerrors.CodeLLMFailure, "empty response")
	}
	return resp.Text, nil
}

// GenerateStructured 要求模型按给定结构返回 JSON，并解析结果。
//
// 解析失败时返回 {"raw_response": 文本} 以及 ErrUnstructured。
func GenerateStructured(ctx context.Context, c Client, prompt string, structure any, temperature float64) (any, error) {
	text, err := GenerateText(ctx, c, StructuredPrompt(prompt, structure), temperature)
	if err != nil {
		return nil, err
	}
	cleaned := StripCodeFence(text)
	var parsed any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return map[string]any{RawResponseKey: cleaned}, ErrUnstructured
	}
	return parsed, nil
}

// GenerateInto 组合 GenerateStructured 与 DecodeInto。
func GenerateInto(ctx context.Context, c Client, prompt string, structure any, temperature float64, target any) error {
	value, err := GenerateStructured(ctx, c, prompt, structure, temperature)
	if err != nil {
		return err
	}
	return DecodeInto(value, target)
}

// StructuredPrompt 在提示词后追加 JSON 结构说明。
func StructuredPrompt(prompt string, structure any) string {
	var rendered string
	switch v := structure.(type) {
	case string:
		rendered = v
	default:
		encoded, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			rendered = fmt.Sprintf("%v", v)
		} else {
			rendered = string(encoded)
		}
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nPlease provide response in the following JSON structure:\n")
	b.WriteString(rendered)
	b.WriteString("\n\nImportant: Return a valid JSON object that strictly follows this structure.\n")
	return b.String()
}

// StripCodeFence 去掉模型常用的 ```json 代码块包裹。
func StripCodeFence(text string) string {
	if _, rest, ok := strings.Cut(text, "```json"); ok {
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}
	if _, rest, ok := strings.Cut(text, "```"); ok {
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(text)
}

// DecodeInto 将通用 JSON 值转换为具体类型。
func DecodeInto(value any, target any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode structured value: %w", err)
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return fmt.Errorf("decode structured value: %w", err)
	}
	return nil
}

func asLLMError(err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "llm call timed out")
	}
	return xerrors.Wrap(xerrors.CodeLLMFailure, err, "")
}

// WrapProviderError 供各厂商实现统一错误码。
func WrapProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, provider+" request timed out")
	}
	return xerrors.Wrap(xerrors.CodeLLMFailure, err, provider+" request failed")
}
