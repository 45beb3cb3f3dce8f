package textnorm

import (
	"reflect"
	"testing"
)

func TestLatin_Normalize(t *testing.T) {
	n := ForLocale(Latin)
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"  It's   a TEST.  ", []string{"its", "a", "test"}},
		{"hello world", []string{"hello", "world"}},
		{"...", []string{}},
		{"", []string{}},
		{"Café déjà-vu", []string{"café", "déjàvu"}},
	}
	for _, tt := range tests {
		got := n.Normalize(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLatin_Idempotent(t *testing.T) {
	n := ForLocale(Latin)
	inputs := []string{
		"Hello, World!",
		"The QUICK brown fox; jumps over: the lazy dog?",
		"  spaced    out\ttext\n",
		"",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(n.Join(once))
		if len(once) == 0 && len(twice) == 0 {
			continue
		}
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestCJK_Normalize(t *testing.T) {
	n := ForLocale(CJK)
	got := n.Normalize("你好，世界！ 今天「天气」不错。")
	want := []string{"你", "好", "世", "界", "今", "天", "天", "气", "不", "错"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
	if n.Join(got) != "你好世界今天天气不错" {
		t.Errorf("Join = %q", n.Join(got))
	}
}

func TestCJK_KeepSpaces(t *testing.T) {
	n := CJKNormalizer{StripSpaces: false}
	got := n.Normalize("你 好")
	if len(got) != 3 || got[1] != " " {
		t.Errorf("expected space to be kept as a token, got %q", got)
	}
}

func TestCJK_EmptyInput(t *testing.T) {
	if got := ForLocale(CJK).Normalize(""); len(got) != 0 {
		t.Errorf("expected no tokens, got %q", got)
	}
}

func TestParseLocale(t *testing.T) {
	tests := []struct {
		in   string
		want Locale
		ok   bool
	}{
		{"latin", Latin, true},
		{"EN", Latin, true},
		{"cjk", CJK, true},
		{"zh", CJK, true},
		{"de", Latin, false},
	}
	for _, tt := range tests {
		got, err := ParseLocale(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseLocale(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseLocale(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPinyin(t *testing.T) {
	got := Pinyin([]string{"中", "国", "A"})
	want := []string{"zhong", "guo", "A"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Pinyin = %q, want %q", got, want)
	}
}
