package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/llm"
	"StoryAI/internal/models"
)

var (
	// SentimentLabels 与情感模型输出的 logits 顺序一致。
	SentimentLabels = []string{"negative", "neutral", "positive"}
	// EmotionLabels 与情绪模型输出的 logits 顺序一致。
	EmotionLabels = []string{"anger", "disgust", "fear", "joy", "neutral", "sadness", "surprise"}
)

// Analyzer 给出文本的情感极性与情绪分布。
type Analyzer interface {
	Sentiment(ctx context.Context, text string) (models.SentimentAnalysis, error)
	Emotions(ctx context.Context, text string) (models.EmotionAnalysis, error)
}

// NeutralSentiment 是分析失败时使用的情感结果。
func NeutralSentiment() models.SentimentAnalysis {
	return models.SentimentAnalysis{Score: 0.5, Label: "neutral"}
}

// NeutralEmotions 是分析失败时使用的情绪结果。
func NeutralEmotions() models.EmotionAnalysis {
	return models.EmotionAnalysis{Emotions: map[string]float64{"neutral": 1.0}, DominantEmotion: "neutral"}
}

// SafeSentiment 调用分析器，出错时返回中性结果与原始错误。
func SafeSentiment(ctx context.Context, a Analyzer, text string) (models.SentimentAnalysis, error) {
	if a == nil {
		return NeutralSentiment(), xerrors.New(xerrors.CodeInitializationFailure, "analyzer not configured")
	}
	result, err := a.Sentiment(ctx, text)
	if err != nil {
		return NeutralSentiment(), err
	}
	return result, nil
}

// SafeEmotions 调用分析器，出错时返回中性结果与原始错误。
func SafeEmotions(ctx context.Context, a Analyzer, text string) (models.EmotionAnalysis, error) {
	if a == nil {
		return NeutralEmotions(), xerrors.New(xerrors.CodeInitializationFailure, "analyzer not configured")
	}
	result, err := a.Emotions(ctx, text)
	if err != nil {
		return NeutralEmotions(), err
	}
	return result, nil
}

// Softmax 把 logits 转换为概率分布。
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax 返回最大值的下标，空切片返回 -1。
func Argmax(values []float64) int {
	idx := -1
	for i, v := range values {
		if idx < 0 || v > values[idx] {
			idx = i
		}
	}
	return idx
}

// SentimentFromLogits 将模型 logits 转换为情感结果。
func SentimentFromLogits(logits []float64) (models.SentimentAnalysis, error) {
	if len(logits) != len(SentimentLabels) {
		return models.SentimentAnalysis{}, fmt.Errorf("expected %d sentiment logits, got %d", len(SentimentLabels), len(logits))
	}
	probs := Softmax(logits)
	idx := Argmax(probs)
	return models.SentimentAnalysis{Score: probs[idx], Label: SentimentLabels[idx]}, nil
}

// EmotionsFromLogits 将模型 logits 转换为情绪分布。
func EmotionsFromLogits(logits []float64) (models.EmotionAnalysis, error) {
	if len(logits) != len(EmotionLabels) {
		return models.EmotionAnalysis{}, fmt.Errorf("expected %d emotion logits, got %d", len(EmotionLabels), len(logits))
	}
	probs := Softmax(logits)
	emotions := make(map[string]float64, len(probs))
	for i, label := range EmotionLabels {
		emotions[label] = probs[i]
	}
	return models.EmotionAnalysis{Emotions: emotions, DominantEmotion: EmotionLabels[Argmax(probs)]}, nil
}

// LLMAnalyzer 让大模型为每个标签打分，再归一化为概率。
type LLMAnalyzer struct {
	client llm.Client
}

// NewLLMAnalyzer 创建基于大模型的分析器。
func NewLLMAnalyzer(client llm.Client) *LLMAnalyzer {
	return &LLMAnalyzer{client: client}
}

// Sentiment 实现 Analyzer。
func (a *LLMAnalyzer) Sentiment(ctx context.Context, text string) (models.SentimentAnalysis, error) {
	scores, err := a.score(ctx, text, "sentiment", SentimentLabels)
	if err != nil {
		return models.SentimentAnalysis{}, err
	}
	probs := normalize(scores)
	idx := Argmax(probs)
	return models.SentimentAnalysis{Score: probs[idx], Label: SentimentLabels[idx]}, nil
}

// Emotions 实现 Analyzer。
func (a *LLMAnalyzer) Emotions(ctx context.Context, text string) (models.EmotionAnalysis, error) {
	scores, err := a.score(ctx, text, "emotion", EmotionLabels)
	if err != nil {
		return models.EmotionAnalysis{}, err
	}
	probs := normalize(scores)
	emotions := make(map[string]float64, len(probs))
	for i, label := range EmotionLabels {
		emotions[label] = probs[i]
	}
	return models.EmotionAnalysis{Emotions: emotions, DominantEmotion: EmotionLabels[Argmax(probs)]}, nil
}

func (a *LLMAnalyzer) score(ctx context.Context, text, kind string, labels []string) ([]float64, error) {
	structure := make(map[string]float64, len(labels))
	for _, label := range labels {
		structure[label] = 0.0
	}
	prompt := fmt.Sprintf(`Classify the %s expressed in the following text.
Give every label a score between 0 and 1 describing how strongly it is present.
Labels: %s

Text:
%s`, kind, strings.Join(labels, ", "), text)

	var parsed map[string]float64
	if err := llm.GenerateInto(ctx, a.client, prompt, structure, 0.0, &parsed); err != nil {
		return nil, err
	}
	byLabel := make(map[string]float64, len(parsed))
	for key, v := range parsed {
		byLabel[strings.ToLower(strings.TrimSpace(key))] = v
	}

	scores := make([]float64, len(labels))
	var total float64
	for i, label := range labels {
		v := byLabel[label]
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		scores[i] = v
		total += v
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: no %s label scored", llm.ErrUnstructured, kind)
	}
	return scores, nil
}

// normalize 把非负分数缩放为总和为 1 的分布，调用方保证总和为正。
func normalize(scores []float64) []float64 {
	var sum float64
	for _, v := range scores {
		sum += v
	}
	out := make([]float64, len(scores))
	for i, v := range scores {
		out[i] = v / sum
	}
	return out
}
