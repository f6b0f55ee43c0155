package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	speechmodel "github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/audio"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/speech"
)

// speechtester 在命令行上走一遍 /tts 与 /tta 的完整链路，便于核对凭证与音色。
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径，任意 ffmpeg 可解码的格式")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "TTS 输出格式 mp3/ogg_opus/pcm")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音 ID 或别名 (female/male)")
	spd := flag.Int("spd", -1, "旧前端语速档位 0-15，-1 表示不设置")
	vol := flag.Int("vol", -1, "旧前端音量档位 0-15，-1 表示不设置")
	per := flag.Int("per", -1, "旧前端发音人 0/1/3/4/5，-1 表示不设置")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	svc := speech.NewService(cfg.Speech)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		chain := speech.NewRecognitionChain(audio.NewFFmpeg(cfg.Audio), svc)
		runASR(ctx, chain, sessionID, *audioPath, *language)
	case "tts":
		opts := &speechmodel.SynthesisOptions{
			Voice:    *voice,
			Language: *language,
			Format:   *format,
			Spd:      levelFlag(*spd),
			Vol:      levelFlag(*vol),
			Per:      levelFlag(*per),
		}
		runTTS(ctx, svc, cfg.Speech, sessionID, *text, opts, *outputPath)
	}
}

func levelFlag(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func runASR(ctx context.Context, chain *speech.RecognitionChain, sessionID, audioPath, language string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
	log.Printf("开始进行 ASR 测试: session=%s ext=%s bytes=%d", sessionID, ext, len(data))

	resp, err := chain.Recognize(ctx, sessionID, data, ext, language)
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}

	log.Printf("ASR 识别成功: text=%q confidence=%.2f duration=%dms", resp.Text, resp.Confidence, resp.Duration)
}

func runTTS(ctx context.Context, svc *speech.Service, cfg config.SpeechConfig, sessionID, text string, opts *speechmodel.SynthesisOptions, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	req := speech.ResolveSynthesis(text, opts, cfg)
	req.SessionID = sessionID

	if outputPath == "" {
		ext := req.Format
		if ext == "ogg_opus" {
			ext = "ogg"
		}
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), ext)
	}

	log.Printf("开始进行 TTS 测试: session=%s voice=%s speed=%.2f volume=%.2f format=%s", sessionID, req.Voice, req.Speed, req.Volume, req.Format)

	resp, err := svc.SynthesizeSpeech(ctx, req)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, %d bytes", outputPath, len(resp.AudioData))
}
