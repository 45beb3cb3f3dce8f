package asr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/textnorm"
	asr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
)

// 一句话识别单次请求的音频上限。
const maxSentenceDuration = 60 * time.Second

// TencentConfig 腾讯云一句话识别配置。
type TencentConfig struct {
	SecretID  string
	SecretKey string
	Region    string // 默认 ap-guangzhou
}

// TencentRecognizer 腾讯云一句话识别。
// 适用于 ≤60 秒的短语音，引擎类型按语种选择 16k_zh / 16k_en。
// 文档：https://cloud.tencent.com/document/product/1093/35646
type TencentRecognizer struct {
	cfg    TencentConfig
	locale textnorm.Locale

	mu     sync.Mutex
	client *asr.Client
}

var _ Engine = (*TencentRecognizer)(nil)

// NewTencentRecognizer 创建未连接的云端识别器。
func NewTencentRecognizer(cfg TencentConfig, locale textnorm.Locale) *TencentRecognizer {
	if cfg.Region == "" {
		cfg.Region = "ap-guangzhou"
	}
	return &TencentRecognizer{cfg: cfg, locale: locale}
}

// Name 实现 Engine。
func (e *TencentRecognizer) Name() string { return "tencent-flash" }

// engineType 返回腾讯云引擎模型类型。
func (e *TencentRecognizer) engineType() string {
	if e.locale == textnorm.CJK {
		return "16k_zh"
	}
	return "16k_en"
}

// Load 创建腾讯云 SDK 客户端。
func (e *TencentRecognizer) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return nil
	}
	if e.cfg.SecretID == "" || e.cfg.SecretKey == "" {
		return fmt.Errorf("腾讯云 SecretID 和 SecretKey 不能为空")
	}

	credential := common.NewCredential(e.cfg.SecretID, e.cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "asr.tencentcloudapi.com"

	client, err := asr.NewClient(credential, e.cfg.Region, cpf)
	if err != nil {
		return fmt.Errorf("创建腾讯云 ASR 客户端失败: %w", err)
	}
	e.client = client

	logger.Infof("[asr] 腾讯云一句话识别已初始化 (region=%s, engine=%s)", e.cfg.Region, e.engineType())
	return nil
}

// Recognize 实现 Recognizer。网络错误重试一次，额度耗尽直接返回。
func (e *TencentRecognizer) Recognize(ctx context.Context, seq audio.Sequence) (string, error) {
	if err := checkInput(seq); err != nil {
		return "", err
	}
	if d := seq.Duration(); d > maxSentenceDuration {
		return "", fmt.Errorf("音频时长 %v 超过一句话识别上限 %v", d, maxSentenceDuration)
	}

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return "", ErrNotLoaded
	}

	pcm := audio.FloatToPCM(seq.Samples)
	text, err := e.recognize(ctx, client, pcm)
	if err != nil && IsNetworkError(err) && ctx.Err() == nil {
		logger.Warnf("[asr] 腾讯云网络错误，重试一次: %v", err)
		text, err = e.recognize(ctx, client, pcm)
	}
	if err != nil && IsQuotaExhaustedError(err) {
		logger.Errorf("[asr] 腾讯云识别额度已耗尽")
	}
	return text, err
}

// recognize 调用腾讯云一句话识别 API。
func (e *TencentRecognizer) recognize(ctx context.Context, client *asr.Client, pcm []byte) (string, error) {
	req := asr.NewSentenceRecognitionRequest()
	req.EngSerViceType = common.StringPtr(e.engineType())
	req.SourceType = common.Uint64Ptr(1) // 语音数据以 base64 随请求上传
	req.VoiceFormat = common.StringPtr("pcm")
	req.Data = common.StringPtr(base64.StdEncoding.EncodeToString(pcm))
	req.DataLen = common.Int64Ptr(int64(len(pcm)))

	resp, err := client.SentenceRecognitionWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("调用腾讯云一句话识别 API 失败: %w", err)
	}
	if resp.Response == nil || resp.Response.Result == nil {
		return "", fmt.Errorf("腾讯云返回空结果")
	}

	result := strings.TrimSpace(*resp.Response.Result)
	logger.Debugf("[asr] 腾讯云一句话识别成功: %s (时长: %.2fs)", result, float64(len(pcm)/2)/SampleRate)
	return result, nil
}

// Close 实现 Engine。
func (e *TencentRecognizer) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client = nil
		logger.Info("[asr] 腾讯云一句话识别已关闭")
	}
}

// IsQuotaExhaustedError 判断是否为额度耗尽错误。
func IsQuotaExhaustedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	quotaErrors := []string{
		"ResourceInsufficient",
		"QuotaExhausted",
		"InvalidParameter.Resource", // 免费额度用完时也会返回
	}
	for _, code := range quotaErrors {
		if strings.Contains(errStr, code) {
			return true
		}
	}
	return false
}

// IsNetworkError 判断是否为网络错误。
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"no such host",
		"network is unreachable",
		"eof",
	}
	for _, pattern := range networkErrors {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
