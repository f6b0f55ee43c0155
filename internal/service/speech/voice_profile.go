package speech

import (
	"strings"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
)

const (
	defaultVoice = "en_female_amy_jupiter_bigtts"
	maleVoice    = "en_male_corey_emo_v2_mars_bigtts"
)

// voiceAliases 把前端与 persona 中的简写映射为火山引擎音色。
var voiceAliases = map[string]string{
	"default":    "",
	"en_default": defaultVoice,
	"female":     defaultVoice,
	"male":       maleVoice,
	"xiaoshi":    defaultVoice,
}

// legacyPersonVoices 对应旧前端 per 参数：0/4/5 女声，1/3 男声。
var legacyPersonVoices = map[int]string{
	0: defaultVoice,
	1: maleVoice,
	3: maleVoice,
	4: defaultVoice,
	5: defaultVoice,
}

// NormalizeVoiceAlias 解析音色别名，未知值原样返回。
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

// ResolveSynthesis 把 /tta 的 config 对象转换为合成请求。
// 显式的 voice/speed/volume 优先于旧的 0-15 档位 spd/vol/per。
func ResolveSynthesis(text string, opts *speech.SynthesisOptions, cfg config.SpeechConfig) *speech.TTSRequest {
	req := &speech.TTSRequest{
		Text:     text,
		Voice:    cfg.TTSVoice,
		Speed:    cfg.TTSSpeed,
		Volume:   cfg.TTSVolume,
		Language: cfg.TTSLanguage,
		Format:   "mp3",
	}
	if opts == nil {
		return req
	}

	if opts.Per != nil {
		if voice, ok := legacyPersonVoices[*opts.Per]; ok {
			req.Voice = voice
		}
	}
	if voice := NormalizeVoiceAlias(opts.Voice); voice != "" {
		req.Voice = voice
	}

	if opts.Spd != nil {
		req.Speed = clamp(0.5+float32(clampLevel(*opts.Spd))*0.1, 0.5, 2.0)
	}
	if opts.Speed > 0 {
		req.Speed = clamp(opts.Speed, 0.5, 2.0)
	}

	if opts.Vol != nil {
		req.Volume = clamp(float32(clampLevel(*opts.Vol))/5, 0.1, 3.0)
	}
	if opts.Volume > 0 {
		req.Volume = clamp(opts.Volume, 0.1, 3.0)
	}

	if lang := strings.TrimSpace(opts.Language); lang != "" {
		req.Language = lang
	}
	if format := strings.TrimSpace(opts.Format); format != "" {
		req.Format = normalizeEncoding(format)
	}

	return req
}

func clampLevel(level int) int {
	return min(max(level, 0), 15)
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
