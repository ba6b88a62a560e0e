package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "StoryAI/internal/errors"
	"StoryAI/internal/identity"
	"StoryAI/internal/llm"
	"StoryAI/internal/messaging"
	"StoryAI/internal/models"
)

const diagramFallback = "Architecture diagram generation failed"

var (
	requirementsStructure = []map[string]any{{
		"category":    "Category name",
		"description": "Requirement description",
		"priority":    "priority",
	}}
	agentsStructure = []map[string]any{{
		"name":            "Agent name",
		"description":     "Agent description",
		"capabilities":    []string{"Capability 1", "Capability 2"},
		"relevance_score": 0.9,
	}}
	stepsStructure = []string{"Step 1: Do something", "Step 2: Do something else"}
)

// Workflow 为多智能体系统生成工作流规划。
type Workflow struct {
	Base
}

// NewWorkflow 创建工作流规划智能体。
func NewWorkflow(id *identity.Identity, client llm.Client, opts ...Option) *Workflow {
	return &Workflow{Base: newBase(NameWorkflow, id, client, opts...)}
}

// AnalyzeRequirements 对需求分类并标注优先级。
func (w *Workflow) AnalyzeRequirements(ctx context.Context, description string, requirements []string, domain string) []models.WorkflowRequirement {
	prompt := fmt.Sprintf(`As an AI Workflow Planning specialist, analyze the following project requirements and categorize them
into functional categories. For each requirement, determine its priority (high, medium, low) based on
importance to the core functionality.

Project Description: %s
Industry/Domain: %s

Requirements:
%s

Format your response as a JSON array of objects with the following structure:
[
    {
        "category": "category name",
        "description": "detailed description of the requirement",
        "priority": "priority level (high, medium, low)"
    }
]
`, description, domain, bulletList(requirements))

	var items []models.WorkflowRequirement
	if err := w.generateInto(ctx, prompt, requirementsStructure, 0.2, &items); err != nil {
		w.fallback("analyze_requirements", err)
		return []models.WorkflowRequirement{{Category: "General", Description: "AI assistant functionality", Priority: "high"}}
	}
	for i := range items {
		if items[i].Category == "" {
			items[i].Category = "General"
		}
		if items[i].Priority == "" {
			items[i].Priority = "medium"
		}
	}
	if items == nil {
		items = []models.WorkflowRequirement{}
	}
	return items
}

// DiscoverAgents 让模型推荐可用的智能体，按相关度降序排列。
func (w *Workflow) DiscoverAgents(ctx context.Context, description string, requirements []models.WorkflowRequirement, domain string) []models.AgentComponent {
	w.logger.Info("检索相关智能体", slog.String("description", description))
	prompt := fmt.Sprintf(`As an AI agent specializing in agent discovery, find the most relevant agents that would
fulfill the following project requirements. For each agent, provide a relevance score
between 0.0 and 1.0 based on how well it matches the requirements.

Project Description: %s
Industry/Domain: %s

Requirements:
%s

Format your response as a JSON array of objects with the following structure:
[
    {
        "name": "agent name",
        "description": "what the agent does",
        "capabilities": ["capability 1", "capability 2", ...],
        "relevance_score": 0.95
    }
]

Return the top 5 most relevant agents.
`, description, domain, requirementLines(requirements, true))

	var agents []models.AgentComponent
	if err := w.generateInto(ctx, prompt, agentsStructure, 0.3, &agents); err != nil {
		w.fallback("discover_agents", err)
		return []models.AgentComponent{}
	}
	for i := range agents {
		if agents[i].Capabilities == nil {
			agents[i].Capabilities = []string{}
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].RelevanceScore > agents[j].RelevanceScore
	})
	if agents == nil {
		agents = []models.AgentComponent{}
	}
	return agents
}

// IntegrationSteps 生成集成步骤。
func (w *Workflow) IntegrationSteps(ctx context.Context, description string, requirements []models.WorkflowRequirement, agents []models.AgentComponent) []string {
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, fmt.Sprintf("- %s: %s", a.Name, a.Description))
	}
	prompt := fmt.Sprintf(`As an expert in AI agent integration, create a detailed step-by-step plan for integrating the
following agents into a cohesive AI assistant workflow. Focus on how these agents will communicate
with each other and how they should be orchestrated to work together seamlessly.

Project Description: %s

Requirements:
%s

Recommended Agents:
%s

Format your response as a JSON array of strings, where each string represents a step in the
integration process. Be specific and detailed, including code concepts where appropriate.

Example:
[
    "Step 1: Set up a central orchestrator agent that will coordinate communication between specialized agents",
    "Step 2: Implement webhook endpoints for each agent to receive messages from the orchestrator",
    ...
]
`, description, requirementLines(requirements, true), strings.Join(names, "\n"))

	var steps []string
	if err := w.generateInto(ctx, prompt, stepsStructure, 0.3, &steps); err != nil {
		w.fallback("integration_steps", err)
		return []string{"Set up communication between agents", "Implement error handling"}
	}
	if steps == nil {
		steps = []string{}
	}
	return steps
}

// ArchitectureDiagram 生成 ASCII 架构图。
func (w *Workflow) ArchitectureDiagram(ctx context.Context, description string, requirements []models.WorkflowRequirement, agents []models.AgentComponent) string {
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, "- "+a.Name)
	}
	prompt := fmt.Sprintf(`Create a text-based architecture diagram showing how the agents will work together.
Use ASCII art to create boxes, arrows, and connections between the agents.

Project: %s

Requirements:
%s

Agents:
%s

The diagram should show:
1. The user entry point
2. The central orchestrator/coordinator
3. Each specialized agent and its responsibility
4. Data flows between agents

Keep the diagram compact but clear.
`, description, requirementLines(requirements, false), strings.Join(names, "\n"))

	diagram, err := w.generateText(ctx, prompt, 0.1)
	if err != nil {
		w.fallback("architecture_diagram", err)
		return diagramFallback
	}
	return diagram
}

// CreatePlan 依次分析需求、推荐智能体、生成集成步骤与架构图，并保存规划。
func (w *Workflow) CreatePlan(ctx context.Context, userID, description string, requirements []string, domain string) (*models.WorkflowPlan, error) {
	if strings.TrimSpace(description) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "project_description is required")
	}
	items := w.AnalyzeRequirements(ctx, description, requirements, domain)
	agents := w.DiscoverAgents(ctx, description, items, domain)
	steps := w.IntegrationSteps(ctx, description, items, agents)
	diagram := w.ArchitectureDiagram(ctx, description, items, agents)

	plan := &models.WorkflowPlan{
		Title:               "AI Assistant Workflow for " + domain,
		Description:         description,
		Requirements:        items,
		RecommendedAgents:   agents,
		IntegrationSteps:    steps,
		ArchitectureDiagram: diagram,
		UserID:              userID,
		Timestamp:           time.Now().UTC(),
	}
	if w.store != nil {
		id, err := w.store.SaveWorkflowPlan(ctx, *plan)
		if err != nil {
			w.logger.Error("保存工作流规划失败", slog.String("user_id", userID), slog.Any("error", err))
		} else {
			plan.ID = id
			w.logger.Info("工作流规划已保存", slog.String("document_id", id))
		}
	}
	return plan, nil
}

// HandleMessage 处理工作流规划请求。
func (w *Workflow) HandleMessage(ctx context.Context, env *messaging.Envelope) (messaging.Payload, error) {
	if w.acknowledge(env) {
		return nil, nil
	}
	payload, err := w.decode(env, "user_id", "project_description", "requirements", "industry_domain")
	if err != nil {
		return nil, err
	}
	plan, err := w.CreatePlan(ctx,
		payload.String("user_id"),
		payload.String("project_description"),
		payload.Strings("requirements"),
		payload.String("industry_domain"),
	)
	if err != nil {
		return nil, err
	}
	return messaging.Payload{
		"success":              true,
		"workflow_title":       plan.Title,
		"recommended_agents":   plan.RecommendedAgents,
		"integration_steps":    plan.IntegrationSteps,
		"architecture_diagram": plan.ArchitectureDiagram,
	}, nil
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

func requirementLines(items []models.WorkflowRequirement, withPriority bool) string {
	lines := make([]string, 0, len(items))
	for _, req := range items {
		if withPriority {
			lines = append(lines, fmt.Sprintf("- %s: %s (Priority: %s)", req.Category, req.Description, req.Priority))
		} else {
			lines = append(lines, fmt.Sprintf("- %s: %s", req.Category, req.Description))
		}
	}
	return strings.Join(lines, "\n")
}

