package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/translate"
)

// 翻译提示词。输入与格式说明通过模板变量注入，模板正文里不能出现花括号。
const translatePrompt = `识别并翻译输入的内容：{content}
首先判断输入的是单词、短语还是完整的句子。
如果是单词，回答中要有中文翻译、音标和例句；
如果是短语，回答中要有中文翻译和例句，不需要音标；
如果是完整的句子，只需要给出中文翻译，不需要音标和例句；
如果输入的是中文，先把它翻译成英文，再按照上面的规则处理翻译出来的英文；
识别出来的英文要检查大小写是否正确。

{format_instructions}

Wrap the output in json tags.`

const formatInstructionsTemplate = "You must format your output as a JSON value that adheres to the JSON Schema below. " +
	"Every required field must be present, field names must match exactly, and there must be no trailing commas.\n\n" +
	"Here is the JSON Schema your output must adhere to. Include the enclosing markdown codeblock:\n" +
	"```json\n%s\n```"

// Translator turns a word, phrase or sentence into a structured translation
// record. It keeps no state between calls.
type Translator struct {
	chain              compose.Runnable[map[string]any, *schema.Message]
	formatInstructions string
}

// NewTranslator compiles the translation chain around chatModel.
func NewTranslator(ctx context.Context, chatModel model.BaseChatModel) (*Translator, error) {
	if chatModel == nil {
		return nil, ErrModelUnavailable
	}

	instructions, err := FormatInstructions()
	if err != nil {
		return nil, err
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage(translatePrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile translate chain: %w", err)
	}

	return &Translator{
		chain:              runnable,
		formatInstructions: instructions,
	}, nil
}

// FormatInstructions 返回嵌入提示词中的输出格式说明，其中包含翻译结果的 JSON Schema。
func FormatInstructions() (string, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	resultSchema := reflector.Reflect(&translate.Result{})

	data, err := json.Marshal(resultSchema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal translate schema: %w", err)
	}
	return fmt.Sprintf(formatInstructionsTemplate, data), nil
}

// Translate asks the model for a translation of content and validates the
// reply. Malformed replies fail with a *ParseError.
func (t *Translator) Translate(ctx context.Context, content string) (*translate.Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyInput
	}

	response, err := t.chain.Invoke(ctx, map[string]any{
		"content":             content,
		"format_instructions": t.formatInstructions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run translate chain: %w", err)
	}

	result, err := ParseTranslation(response.Content)
	if err != nil {
		log.Printf("[translate] malformed model output for %q: %v", content, err)
		return nil, err
	}

	log.Printf("[translate] translated %q, phonetic=%t, examples=%d", content, result.Phonetic != "", len(result.Examples))
	return result, nil
}
