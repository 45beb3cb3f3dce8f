package textnorm

import (
	"github.com/mozillazg/go-pinyin"
)

// Pinyin 把单字词元转换为不带声调的拼音，非汉字原样保留。
// 同音字替换不计错误，用来区分"读对了但写错了"与真正的发音错误。
func Pinyin(tokens []string) []string {
	args := pinyin.NewArgs()
	args.Style = pinyin.Normal
	args.Fallback = func(r rune, a pinyin.Args) []string {
		return []string{string(r)}
	}

	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		py := pinyin.LazyPinyin(tok, args)
		if len(py) == 0 {
			out = append(out, tok)
			continue
		}
		out = append(out, py...)
	}
	return out
}
