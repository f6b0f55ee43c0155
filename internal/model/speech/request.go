package speech

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string `json:"sessionId"`
	Audio     []byte `json:"-"`
	Format    string `json:"format"`   // wav, pcm
	Language  string `json:"language"` // zh-CN, en-US, etc.
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`  // 声音类型
	Speed     float32 `json:"speed"`  // 语速倍率 0.5-2.0
	Volume    float32 `json:"volume"` // 音量倍率 0.1-3.0
	Format    string  `json:"format"` // mp3, ogg_opus, pcm
	Language  string  `json:"language"`
}

// SynthesisOptions 是 /tta 接口的 config 对象。
// spd/vol/per 兼容旧前端的 0-15 档位写法，显式字段优先。
type SynthesisOptions struct {
	Voice    string  `json:"voice,omitempty"`
	Speed    float32 `json:"speed,omitempty"`
	Volume   float32 `json:"volume,omitempty"`
	Language string  `json:"language,omitempty"`
	Format   string  `json:"format,omitempty"`

	Spd *int `json:"spd,omitempty"`
	Vol *int `json:"vol,omitempty"`
	Per *int `json:"per,omitempty"`
}
