package persona

// Mode 区分助手的使用场景。
type Mode string

const (
	ModeChat      Mode = "chat"
	ModeTranslate Mode = "translate"
)

// Persona captures an assistant profile exposed to the frontend.
type Persona struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Mode        Mode     `json:"mode"`
	Greeting    string   `json:"greeting"`
	PromptHint  string   `json:"promptHint,omitempty"`
	VoiceID     string   `json:"voiceId,omitempty"`
	Description string   `json:"description,omitempty"`
	Rules       []string `json:"rules,omitempty"` // 对话约束
}

// DefaultChatID 是未指定 persona 时使用的聊天助手。
const DefaultChatID = "xiaoshi"

// Seed provides the built-in assistants.
func Seed() []Persona {
	return []Persona{
		{
			ID:          DefaultChatID,
			Name:        "小识",
			Title:       "英文聊天助手",
			Mode:        ModeChat,
			Greeting:    "translate by chat",
			PromptHint:  "你是一个优秀的英文聊天助手，你的名字叫小识，现在你将根据输入的信息，进行连续的英文对话。",
			VoiceID:     "en_default",
			Description: "陪伴用户练习英文口语与写作的对话伙伴。",
			Rules: []string{
				"你必须用英文进行对话",
				"请确保你的回答中没有中文",
				"保持对话连贯，结合之前的上下文回应",
			},
		},
		{
			ID:          "xiaoshi-translator",
			Name:        "小识",
			Title:       "翻译助手",
			Mode:        ModeTranslate,
			Greeting:    "tool of translate",
			PromptHint:  "识别并翻译用户输入的单词、短语或句子。",
			VoiceID:     "en_default",
			Description: "把中英文单词、短语与句子拆解成释义、音标与例句。",
		},
	}
}
