package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"StoryAI/internal/analysis"
	"StoryAI/internal/models"
)

// Analyzer 通过调用 Python 脚本运行 transformer 模型。
//
// 脚本从 stdin 读取 {"task": "sentiment"|"emotion", "text": "..."}，
// 并输出 {"sentiment_logits": [...]} 或 {"emotion_logits": [...]}。
type Analyzer struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewAnalyzer 创建 Python Bridge 分析器。
func NewAnalyzer(pythonExec, scriptPath, workingDir string) (*Analyzer, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Analyzer{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type scriptOutput struct {
	SentimentLogits []float64 `json:"sentiment_logits"`
	EmotionLogits   []float64 `json:"emotion_logits"`
	Error           string    `json:"error"`
}

// Sentiment 实现 analysis.Analyzer。
func (a *Analyzer) Sentiment(ctx context.Context, text string) (models.SentimentAnalysis, error) {
	out, err := a.run(ctx, "sentiment", text)
	if err != nil {
		return models.SentimentAnalysis{}, err
	}
	return analysis.SentimentFromLogits(out.SentimentLogits)
}

// Emotions 实现 analysis.Analyzer。
func (a *Analyzer) Emotions(ctx context.Context, text string) (models.EmotionAnalysis, error) {
	out, err := a.run(ctx, "emotion", text)
	if err != nil {
		return models.EmotionAnalysis{}, err
	}
	return analysis.EmotionsFromLogits(out.EmotionLogits)
}

func (a *Analyzer) run(ctx context.Context, task, text string) (*scriptOutput, error) {
	encoded, err := json.Marshal(map[string]string{"task": task, "text": text})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, a.pythonExec, a.scriptPath)
	if a.workingDir != "" {
		command.Dir = a.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var out scriptOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("python 分析失败: %s", out.Error)
	}
	return &out, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
