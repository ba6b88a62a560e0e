package registry

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// BuildReadme 按 Agentverse 约定生成带徽章与 XML 片段的 README。
func BuildReadme(domain, description string, useCases []string, params []PayloadParameter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "![domain:%s](https://img.shields.io/badge/%s-3D8BD3)\n\n", domain, domain)
	fmt.Fprintf(&b, "<description>%s</description>\n", description)
	b.WriteString("<use_cases>\n")
	for _, useCase := range useCases {
		fmt.Fprintf(&b, "    <use_case>%s</use_case>\n", useCase)
	}
	b.WriteString("</use_cases>\n")
	b.WriteString("<payload_requirements>\n")
	b.WriteString("<description>Payload format requirements for this agent:</description>\n")
	b.WriteString("<payload>\n")
	for _, param := range params {
		b.WriteString("    <requirement>\n")
		fmt.Fprintf(&b, "        <parameter>%s</parameter>\n", param.Parameter)
		fmt.Fprintf(&b, "        <description>%s</description>\n", param.Description)
		b.WriteString("    </requirement>\n")
	}
	b.WriteString("</payload>\n")
	b.WriteString("</payload_requirements>\n")
	return b.String()
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func renderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		)
	})
	return markdown
}

// RenderHTML 将 README 渲染为 HTML，保留其中的 XML 片段。
func RenderHTML(readme string) (string, error) {
	var buf bytes.Buffer
	if err := renderer().Convert([]byte(readme), &buf); err != nil {
		return "", fmt.Errorf("渲染 README 失败: %w", err)
	}
	return buf.String(), nil
}
