package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/xiaoshi/backend/internal/model/persona"
)

// PromptTemplate defines the structure for persona prompts
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PersonaPromptManager manages prompt templates for different personas
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a new prompt manager with default templates
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}

	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given persona
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt creates the system prompt for the persona.
func (pm *PersonaPromptManager) BuildSystemPrompt(p *persona.Persona) string {
	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(p)
	}

	rules := append(append([]string(nil), template.ContextRules...), p.Rules...)

	return fmt.Sprintf(`%s

个性化提示：
- %s

对话规则：
- %s`,
		template.SystemPrompt,
		strings.Join(template.PersonalityHints, "\n- "),
		strings.Join(rules, "\n- "),
	)
}

// buildBasicSystemPrompt is used when no template is registered.
func (pm *PersonaPromptManager) buildBasicSystemPrompt(p *persona.Persona) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("你是%s，%s。", p.Name, p.Title))
	if hint := strings.TrimSpace(p.PromptHint); hint != "" {
		builder.WriteString("\n")
		builder.WriteString(hint)
	}
	if len(p.Rules) > 0 {
		builder.WriteString("\n注意：")
		builder.WriteString(strings.Join(p.Rules, "；"))
	}
	return builder.String()
}

func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates[persona.DefaultChatID] = &PromptTemplate{
		SystemPrompt: `你是一个优秀的英文聊天助手，你的名字叫小识，现在你将根据输入的信息，进行连续的英文对话。`,
		PersonalityHints: []string{
			"语气友好、耐心，像一位陪练英文口语的朋友",
			"用自然、地道的英文表达，难度贴合用户的水平",
			"适当追问，让对话可以持续下去",
		},
		ContextRules: []string{
			"无论用户使用什么语言输入，都只用英文回答",
		},
	}
}
