package models

import (
	"encoding/json"
	"time"
)

// AgentResponse 是所有能力接口统一返回的响应信封。
type AgentResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// MarshalJSON 保证 data 字段始终是一个 JSON 对象。
func (r AgentResponse) MarshalJSON() ([]byte, error) {
	type envelope AgentResponse
	out := envelope(r)
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	return json.Marshal(out)
}

// Succeeded 构造成功响应。
func Succeeded(data any, message string) AgentResponse {
	return AgentResponse{Success: true, Data: data, Message: message}
}

// Failed 构造失败响应，data 固定为空对象。
func Failed(message string) AgentResponse {
	return AgentResponse{Success: false, Data: map[string]any{}, Message: message}
}

// JournalEntry 是一条用户日记。
type JournalEntry struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
}

// NewJournalEntry 以当前时间创建日记。
func NewJournalEntry(userID, content string) JournalEntry {
	return JournalEntry{Content: content, Timestamp: time.Now().UTC(), UserID: userID}
}

// SentimentAnalysis 情感极性分析结果。
type SentimentAnalysis struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// EmotionAnalysis 情绪分布分析结果。
type EmotionAnalysis struct {
	Emotions        map[string]float64 `json:"emotions"`
	DominantEmotion string             `json:"dominant_emotion"`
}

// JournalInsight 是大模型对日记给出的洞察。
type JournalInsight struct {
	Summary              string   `json:"summary"`
	KeyThemes            []string `json:"key_themes"`
	CognitiveDistortions []string `json:"cognitive_distortions"`
	GrowthIndicators     []string `json:"growth_indicators"`
	ReflectionQuestions  []string `json:"reflection_questions"`
	ActionableAdvice     []string `json:"actionable_advice"`
}

// Normalize 为缺失字段填充默认值。
func (i *JournalInsight) Normalize() {
	if i.Summary == "" {
		i.Summary = "Summary not available"
	}
	i.KeyThemes = nonNil(i.KeyThemes)
	i.CognitiveDistortions = nonNil(i.CognitiveDistortions)
	i.GrowthIndicators = nonNil(i.GrowthIndicators)
	i.ReflectionQuestions = nonNil(i.ReflectionQuestions)
	i.ActionableAdvice = nonNil(i.ActionableAdvice)
}

// JournalAnalysis 汇总一次日记分析的全部结果。
type JournalAnalysis struct {
	ID                string            `json:"id,omitempty"`
	JournalEntry      JournalEntry      `json:"journal_entry"`
	SentimentAnalysis SentimentAnalysis `json:"sentiment_analysis"`
	EmotionAnalysis   EmotionAnalysis   `json:"emotion_analysis"`
	Insights          JournalInsight    `json:"insights"`
}

// Exercise 是单个练习条目。
type Exercise struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Exercises 是用户当前的全部练习。
type Exercises struct {
	MorningReflection     Exercise   `json:"morning_reflection"`
	GratitudeExercise     Exercise   `json:"gratitude_exercise"`
	MindfulnessMeditation Exercise   `json:"mindfulness_meditation"`
	CBTExercise           Exercise   `json:"cbt_exercise"`
	RelaxationTechniques  Exercise   `json:"relaxation_techniques"`
	LastUpdated           *time.Time `json:"last_updated,omitempty"`
}

// Merge 在已有练习的基础上替换感恩练习，其余条目保持不变。
func (e Exercises) Merge(text string) Exercises {
	e.GratitudeExercise = Exercise{Text: text}
	return e
}

// TherapyMessage 是治疗会话中的一条消息。
type TherapyMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsUser    bool      `json:"is_user"`
}

// TherapySession 是结束后落库的会话记录。
type TherapySession struct {
	ID             string           `json:"id,omitempty"`
	Messages       []TherapyMessage `json:"messages"`
	SessionSummary string           `json:"session_summary"`
	UserID         string           `json:"user_id"`
	Timestamp      time.Time        `json:"timestamp"`
}

// WorkflowRequirement 是归类后的需求。
type WorkflowRequirement struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// AgentComponent 是工作流中推荐使用的智能体。
type AgentComponent struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Capabilities   []string `json:"capabilities"`
	RelevanceScore float64  `json:"relevance_score"`
}

// WorkflowPlan 是工作流规划结果。
type WorkflowPlan struct {
	ID                  string                `json:"id,omitempty"`
	Title               string                `json:"title"`
	Description         string                `json:"description"`
	Requirements        []WorkflowRequirement `json:"requirements"`
	RecommendedAgents   []AgentComponent      `json:"recommended_agents"`
	IntegrationSteps    []string              `json:"integration_steps"`
	ArchitectureDiagram string                `json:"architecture_diagram"`
	UserID              string                `json:"user_id"`
	Timestamp           time.Time             `json:"timestamp"`
}

// ExternalAgent 是目录中可供推荐的外部智能体。
type ExternalAgent struct {
	AgentName        string  `json:"agent_name"`
	AgentDescription string  `json:"agent_description"`
	RelevanceScore   float64 `json:"relevance_score"`
}

// FeatureRecommendation 是向导推荐的产品功能。
type FeatureRecommendation struct {
	RecommendedFeature string `json:"recommended_feature"`
	Explanation        string `json:"explanation"`
	NextSteps          string `json:"next_steps"`
}

// Guidance 是向导的综合回复。
type Guidance struct {
	StoryAIRecommendation FeatureRecommendation `json:"story_ai_recommendation"`
	ExternalAgents        []ExternalAgent       `json:"external_agents"`
	PersonalizedMessage   string                `json:"personalized_message"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
