// Package aggregate 把逐条评测结果汇总为语料级平均值。
package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"text/tabwriter"
)

// ErrEmptyAggregation 某个指标在所有记录中都不存在，平均值无定义。
var ErrEmptyAggregation = errors.New("aggregate: 没有可用于求平均的记录")

// 结果记录中的文本字段，即使内容是数字也不参与平均。
var textKeys = map[string]bool{
	"gen_wav": true,
	"ref_txt": true,
	"hyp_txt": true,
}

// Summary 指标名到平均值的映射。
type Summary map[string]float64

// Aggregator 逐条累加指标，按需计算平均值。零值不可用，使用 New 创建。
type Aggregator struct {
	sums    map[string]float64
	counts  map[string]int
	records int
}

// New 创建空的汇总器。
func New() *Aggregator {
	return &Aggregator{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Add 累加一条记录。NaN 和无穷值被忽略。
func (a *Aggregator) Add(record map[string]float64) {
	a.records++
	for k, v := range record {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		a.sums[k] += v
		a.counts[k]++
	}
}

// AddJSON 解析一行 JSON 结果并累加其中的数值字段。
// 数字字符串同样接受；文本字段、布尔值和 null 被忽略。
func (a *Aggregator) AddJSON(line []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return fmt.Errorf("解析结果行失败: %w", err)
	}

	record := make(map[string]float64, len(raw))
	for k, v := range raw {
		if textKeys[k] {
			continue
		}
		if f, ok := numeric(v); ok {
			record[k] = f
		}
	}
	a.Add(record)
	return nil
}

func numeric(v json.RawMessage) (float64, bool) {
	if string(v) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Records 返回已累加的记录数。
func (a *Aggregator) Records() int { return a.records }

// Count 返回包含 key 的记录数。
func (a *Aggregator) Count(key string) int { return a.counts[key] }

// Mean 返回 key 的算术平均值。
func (a *Aggregator) Mean(key string) (float64, error) {
	n := a.counts[key]
	if n == 0 {
		return 0, fmt.Errorf("%s: %w", key, ErrEmptyAggregation)
	}
	return a.sums[key] / float64(n), nil
}

// Keys 返回出现过的指标名，按字母排序。
func (a *Aggregator) Keys() []string {
	keys := make([]string, 0, len(a.counts))
	for k := range a.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary 返回所有指标的平均值。没有任何数值字段时返回 ErrEmptyAggregation。
func (a *Aggregator) Summary() (Summary, error) {
	if len(a.counts) == 0 {
		return nil, ErrEmptyAggregation
	}
	s := make(Summary, len(a.counts))
	for k := range a.counts {
		m, err := a.Mean(k)
		if err != nil {
			return nil, err
		}
		s[k] = m
	}
	return s, nil
}

// WriteJSON 以单个 JSON 对象写出汇总结果，键按字母排序。
func (s Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]float64(s))
}

// Render 以表格形式输出到控制台。
func (s Summary) Render(w io.Writer, counts func(string) int) error {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "metric\tmean\tn")
	for _, k := range keys {
		n := 0
		if counts != nil {
			n = counts(k)
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%d\n", k, s[k], n)
	}
	return tw.Flush()
}
