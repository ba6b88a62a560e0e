package registry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// PayloadParameter 描述智能体接受的一个消息字段。
type PayloadParameter struct {
	Parameter   string `yaml:"parameter" json:"parameter"`
	Description string `yaml:"description" json:"description"`
}

// AgentSpec 是单个智能体的注册元数据。
type AgentSpec struct {
	Name            string             `yaml:"name" json:"name"`
	Title           string             `yaml:"title" json:"title"`
	SeedIndex       uint32             `yaml:"seed_index" json:"seed_index"`
	UseSecondaryKey bool               `yaml:"use_secondary_key" json:"use_secondary_key"`
	Domain          string             `yaml:"domain" json:"domain"`
	Description     string             `yaml:"description" json:"description"`
	UseCases        []string           `yaml:"use_cases" json:"use_cases"`
	Payload         []PayloadParameter `yaml:"payload" json:"payload"`
}

// Readme 生成注册用的 README。
func (a AgentSpec) Readme() string {
	return BuildReadme(a.Domain, a.Description, a.UseCases, a.Payload)
}

// Catalog 汇总全部智能体的注册元数据。
type Catalog struct {
	Agents []AgentSpec `yaml:"agents"`
}

// DefaultCatalog 返回内置目录。
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(embeddedCatalog)
}

// LoadCatalog 读取内置目录，并用 path 指定的文件按名称覆盖条目。
func LoadCatalog(path string) (*Catalog, error) {
	catalog, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return catalog, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取智能体目录失败: %w", err)
	}
	override, err := parseCatalog(content)
	if err != nil {
		return nil, err
	}
	for _, spec := range override.Agents {
		catalog.put(spec)
	}
	return catalog, nil
}

// Lookup 按名称查找智能体。
func (c *Catalog) Lookup(name string) (AgentSpec, bool) {
	for _, spec := range c.Agents {
		if spec.Name == name {
			return spec, true
		}
	}
	return AgentSpec{}, false
}

func (c *Catalog) put(spec AgentSpec) {
	for i := range c.Agents {
		if c.Agents[i].Name == spec.Name {
			c.Agents[i] = spec
			return
		}
	}
	c.Agents = append(c.Agents, spec)
}

func parseCatalog(content []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return nil, fmt.Errorf("解析智能体目录失败: %w", err)
	}
	for i, spec := range catalog.Agents {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("智能体目录第 %d 项缺少 name", i+1)
		}
	}
	return &catalog, nil
}
