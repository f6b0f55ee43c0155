package translate

// Result 是结构化翻译的输出。字段名沿用前端既有约定。
type Result struct {
	SourceText  string    `json:"english" jsonschema:"required" jsonschema_description:"识别出来的英文；输入为中文时为完整的英文翻译，注意大小写"`
	Explanation string    `json:"explain" jsonschema:"required" jsonschema_description:"完整的包含词性和中文解释，内容要全面，只保留中文部分"`
	Phonetic    string    `json:"phonetic,omitempty" jsonschema_description:"单词的音标，仅在输入为单词时出现，检查格式正确性"`
	Examples    []Example `json:"examples,omitempty" jsonschema_description:"例句，输入为单词和短语时出现，句子不需要"`
}

// Example 一条例句及其翻译。
type Example struct {
	Sentence    string `json:"example_sentence" jsonschema:"required" jsonschema_description:"英文例句"`
	Translation string `json:"example_translation" jsonschema:"required" jsonschema_description:"英文例句的中文翻译"`
}
