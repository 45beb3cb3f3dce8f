// Package textnorm 在计算错误率之前规整参考文本与识别文本。
package textnorm

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Locale 文本语种。
type Locale int

const (
	// Latin 拉丁字母文本，按空白切分成词。
	Latin Locale = iota
	// CJK 中日韩文本，切分成单字。
	CJK
)

var localeNames = [...]string{"latin", "cjk"}

func (l Locale) String() string {
	if int(l) < len(localeNames) {
		return localeNames[l]
	}
	return "unknown"
}

// ParseLocale 解析配置中的语种名称，兼容 en / zh 写法。
func ParseLocale(s string) (Locale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latin", "en":
		return Latin, nil
	case "cjk", "zh":
		return CJK, nil
	}
	return Latin, fmt.Errorf("未知语种: %q", s)
}

// Normalizer 把原始文本变成词元序列。实现必须是纯函数，对任何输入都不失败。
type Normalizer interface {
	Normalize(text string) []string
	// Join 把词元拼回文本，用于结果中的 ref_txt / hyp_txt。
	Join(tokens []string) string
	Locale() Locale
}

// ForLocale 返回语种对应的默认规整器。
func ForLocale(l Locale) Normalizer {
	if l == CJK {
		return CJKNormalizer{StripSpaces: true}
	}
	return LatinNormalizer{}
}

// asciiPunctuation 全部 ASCII 标点。
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// LatinNormalizer 去掉 ASCII 标点、转小写、按空白切词。
type LatinNormalizer struct{}

func (LatinNormalizer) Normalize(text string) []string {
	stripped := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && strings.ContainsRune(asciiPunctuation, r) {
			return -1
		}
		return r
	}, text)
	// Caser 有内部状态，不能跨 goroutine 共享，每次新建
	lowered := cases.Lower(language.Und).String(stripped)
	return strings.Fields(lowered)
}

func (LatinNormalizer) Join(tokens []string) string { return strings.Join(tokens, " ") }

func (LatinNormalizer) Locale() Locale { return Latin }

// cjkPunctuation 全角及中文标点，取自 zhon.hanzi.punctuation。
const cjkPunctuation = "＂＃＄％＆＇（）＊＋，－／：；＜＝＞＠［＼］＾＿｀｛｜｝～｟｠｢｣､　、〃〈〉《》「」『』【】〔〕〖〗〘〙〚〛〜〝〞〟〰〾〿–—‘’‛“”„‟…‧﹏﹑﹔·！？｡。"

// CJKNormalizer 去掉中文标点后切分成单字，不做分词。
type CJKNormalizer struct {
	// StripSpaces 同时去掉空白字符，避免空格被当作一个字计入错误。
	StripSpaces bool
}

func (n CJKNormalizer) Normalize(text string) []string {
	tokens := make([]string, 0, len(text)/3)
	for _, r := range text {
		if strings.ContainsRune(cjkPunctuation, r) {
			continue
		}
		if n.StripSpaces && unicode.IsSpace(r) {
			continue
		}
		tokens = append(tokens, string(r))
	}
	return tokens
}

func (CJKNormalizer) Join(tokens []string) string { return strings.Join(tokens, "") }

func (CJKNormalizer) Locale() Locale { return CJK }
