package speech

import (
	"errors"
	"net/http"
	"strings"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
)

// ErrNotConfigured 表示缺少火山引擎语音凭证。
var ErrNotConfigured = errors.New("speech service is not configured")

type credentials struct {
	appID string
	token string
}

func resolveCredentials(cfg config.SpeechConfig) (credentials, error) {
	creds := credentials{
		appID: strings.TrimSpace(cfg.AppID),
		token: strings.TrimSpace(cfg.AccessToken),
	}
	if creds.token == "" {
		creds.token = strings.TrimSpace(cfg.APIKey)
	}
	if creds.appID == "" || creds.token == "" {
		return credentials{}, ErrNotConfigured
	}
	return creds, nil
}

// header 构造握手请求头，resourceID 区分 ASR/TTS 计费资源。
func (c credentials) header(resourceID, connectID string) http.Header {
	header := http.Header{}
	header.Set("X-Api-App-Key", c.appID)
	header.Set("X-Api-Access-Key", c.token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header
}
