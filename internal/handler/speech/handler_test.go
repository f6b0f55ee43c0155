package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/audio"
	chatservice "github.com/zhouzirui/xiaoshi/backend/internal/service/chat"
)

type fakeRecognizer struct {
	session  string
	data     []byte
	ext      string
	language string
	err      error
}

func (f *fakeRecognizer) Recognize(_ context.Context, sessionID string, data []byte, ext, language string) (*speechmodel.ASRResponse, error) {
	f.session, f.data, f.ext, f.language = sessionID, data, ext, language
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.ASRResponse{SessionID: sessionID, Text: "hello there"}, nil
}

type fakeSynthesizer struct {
	req   *speechmodel.TTSRequest
	audio []byte
	err   error
}

func (f *fakeSynthesizer) SynthesizeSpeech(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{AudioData: f.audio, Format: req.Format}, nil
}

var testSpeechConfig = config.SpeechConfig{
	TTSVoice:    "en_female_amy_jupiter_bigtts",
	TTSSpeed:    1.0,
	TTSVolume:   1.0,
	TTSLanguage: "en-US",
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("audio", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func postTTS(t *testing.T, h http.Handler, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, data, fields)
	req := httptest.NewRequest(http.MethodPost, "/tts", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestTranscribeReturnsEnvelope(t *testing.T) {
	recognizer := &fakeRecognizer{}
	router := newRouter(New(recognizer, nil, testSpeechConfig, 0, nil, nil))

	resp := postTTS(t, router, "clip.webm", []byte("webm"), map[string]string{"id": "s1", "language": "en-US"})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.Code, resp.Body.String())
	}

	var body struct {
		Code int `json:"code"`
		Data struct {
			Content string `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != 200 || body.Data.Content != "hello there" {
		t.Errorf("unexpected body: %+v", body)
	}
	if recognizer.session != "s1" || recognizer.ext != "webm" || recognizer.language != "en-US" || string(recognizer.data) != "webm" {
		t.Errorf("recognizer got session=%q ext=%q language=%q data=%q", recognizer.session, recognizer.ext, recognizer.language, recognizer.data)
	}
}

func TestTranscribeExtFieldWins(t *testing.T) {
	recognizer := &fakeRecognizer{}
	router := newRouter(New(recognizer, nil, testSpeechConfig, 0, nil, nil))

	postTTS(t, router, "blob", []byte("x"), map[string]string{"ext": "m4a"})
	if recognizer.ext != "m4a" {
		t.Errorf("ext = %q, want m4a", recognizer.ext)
	}
}

func TestTranscribeErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "empty", err: audio.ErrEmptyAudio, want: http.StatusBadRequest},
		{name: "corrupt", err: fmt.Errorf("%w: exit status 1", audio.ErrTranscode), want: http.StatusUnprocessableEntity},
		{name: "upstream", err: fmt.Errorf("ASR failed: %w", errors.New("45000001")), want: http.StatusBadGateway},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "transcode deadline", err: fmt.Errorf("%w: %w", audio.ErrTranscode, context.DeadlineExceeded), want: http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(New(&fakeRecognizer{err: tc.err}, nil, testSpeechConfig, 0, nil, nil))
			resp := postTTS(t, router, "clip.webm", []byte("x"), nil)
			if resp.Code != tc.want {
				t.Errorf("status = %d, want %d", resp.Code, tc.want)
			}
		})
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	router := newRouter(New(&fakeRecognizer{}, nil, testSpeechConfig, 0, nil, nil))
	resp := postTTS(t, router, "", nil, map[string]string{"id": "s1"})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	router := newRouter(New(&fakeRecognizer{}, nil, testSpeechConfig, 1024, nil, nil))
	resp := postTTS(t, router, "clip.webm", bytes.Repeat([]byte{1}, 4096), nil)
	if resp.Code != http.StatusRequestEntityTooLarge && resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want rejection", resp.Code)
	}
}

func postTTA(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/tta", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte("ID3-mp3")}
	router := newRouter(New(nil, synth, testSpeechConfig, 0, nil, nil))

	resp := postTTA(router, `{"input":"Good morning","config":{"spd":5,"vol":10,"per":1}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != "attachment; filename="+ttaFilename {
		t.Errorf("content disposition = %q", cd)
	}
	if resp.Body.String() != "ID3-mp3" {
		t.Errorf("body = %q", resp.Body.String())
	}

	if synth.req.Text != "Good morning" || synth.req.Volume != 2.0 || synth.req.Voice != "en_male_corey_emo_v2_mars_bigtts" {
		t.Errorf("unexpected synthesis request: %+v", synth.req)
	}
}

func TestSynthesizeUsesPersonaVoice(t *testing.T) {
	sessions := chatservice.NewService()
	session, _ := sessions.CreateSession(context.Background(), persona.DefaultChatID)

	synth := &fakeSynthesizer{audio: []byte("mp3")}
	router := newRouter(New(nil, synth, testSpeechConfig, 0, sessions, persona.NewMemoryStore(persona.Seed())))

	resp := postTTA(router, fmt.Sprintf(`{"input":"Hi","id":%q}`, session.ID))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if synth.req.Voice != "en_female_amy_jupiter_bigtts" || synth.req.SessionID != session.ID {
		t.Errorf("unexpected synthesis request: %+v", synth.req)
	}
}

func TestSynthesizeValidationAndFailure(t *testing.T) {
	router := newRouter(New(nil, &fakeSynthesizer{audio: []byte("x")}, testSpeechConfig, 0, nil, nil))
	if resp := postTTA(router, `{"input":"  "}`); resp.Code != http.StatusBadRequest {
		t.Errorf("empty input status = %d", resp.Code)
	}
	if resp := postTTA(router, `{`); resp.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", resp.Code)
	}

	failing := newRouter(New(nil, &fakeSynthesizer{err: errors.New("TTS API error")}, testSpeechConfig, 0, nil, nil))
	if resp := postTTA(failing, `{"input":"Hi"}`); resp.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d", resp.Code)
	}

	silent := newRouter(New(nil, &fakeSynthesizer{}, testSpeechConfig, 0, nil, nil))
	if resp := postTTA(silent, `{"input":"Hi"}`); resp.Code != http.StatusBadGateway {
		t.Errorf("empty audio status = %d", resp.Code)
	}
}

func TestRegisterUnavailable(t *testing.T) {
	r := chi.NewRouter()
	RegisterUnavailable(r)

	resp := postTTA(r, `{"input":"Hi"}`)
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.Code)
	}
}

func TestInferAudioFormat(t *testing.T) {
	cases := map[string]string{
		"a.MP3":     "mp3",
		"b.webm":    "webm",
		"c.m4a":     "m4a",
		"blob":      "",
		"weird.xyz": "",
	}
	for name, want := range cases {
		if got := inferAudioFormat(name); got != want {
			t.Errorf("inferAudioFormat(%q) = %q, want %q", name, got, want)
		}
	}
}
