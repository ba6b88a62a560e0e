package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"StoryAI/internal/models"
)

// Provider 定义外部智能体目录检索的通用接口。
type Provider interface {
	Search(query string) []models.ExternalAgent
}

// Entry 描述目录中的一个外部智能体及其打分规则。
type Entry struct {
	AgentName        string   `json:"agent_name"`
	AgentDescription string   `json:"agent_description"`
	Keywords         []string `json:"keywords"`
	MatchScore       float64  `json:"match_score"`
	BaseScore        float64  `json:"base_score"`
}

// DefaultEntries 是未配置目录文件时使用的内置条目。
func DefaultEntries() []Entry {
	return []Entry{
		{
			AgentName:        "Meditation Guide Agent",
			AgentDescription: "Guides users through personalized meditation exercises",
			Keywords:         []string{"meditation", "stress"},
			MatchScore:       0.85,
			BaseScore:        0.4,
		},
		{
			AgentName:        "Sleep Improvement Agent",
			AgentDescription: "Provides recommendations for better sleep",
			Keywords:         []string{"sleep", "insomnia"},
			MatchScore:       0.9,
			BaseScore:        0.3,
		},
		{
			AgentName:        "Exercise Motivation Agent",
			AgentDescription: "Helps users stay motivated with physical exercise routines",
			Keywords:         []string{"exercise", "motivation"},
			MatchScore:       0.8,
			BaseScore:        0.2,
		},
	}
}

// StaticProvider 基于静态条目为查询打分。
type StaticProvider struct {
	items      []Entry
	maxResults int
}

// NewStaticProvider 创建静态目录实例，items 为空时使用内置条目。
func NewStaticProvider(items []Entry, maxResults int) *StaticProvider {
	if len(items) == 0 {
		items = DefaultEntries()
	}
	if maxResults <= 0 {
		maxResults = 2
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载目录条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("智能体目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}
	defer file.Close()

	var entries []Entry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Search 为每个条目打分，按相关度降序返回前 maxResults 个。
func (p *StaticProvider) Search(query string) []models.ExternalAgent {
	if p == nil {
		return nil
	}

	query = strings.ToLower(strings.TrimSpace(query))
	results := make([]models.ExternalAgent, 0, len(p.items))
	for _, item := range p.items {
		score := item.BaseScore
		if matches(item, query) {
			score = item.MatchScore
		}
		results = append(results, models.ExternalAgent{
			AgentName:        item.AgentName,
			AgentDescription: item.AgentDescription,
			RelevanceScore:   score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > p.maxResults {
		results = results[:p.maxResults]
	}
	return results
}

func matches(entry Entry, query string) bool {
	for _, keyword := range entry.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(query, normalized) {
			return true
		}
	}
	return false
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
