// Package editdist 计算两个词元序列之间的编辑距离及错误率。
package editdist

import (
	"errors"
	"fmt"
)

// ErrDivisionUndefined 参考序列为空，错误率无定义。
var ErrDivisionUndefined = errors.New("editdist: 参考序列为空，错误率无定义")

// Tag 编辑操作类型。
type Tag string

const (
	Equal   Tag = "equal"
	Insert  Tag = "insert"
	Delete  Tag = "delete"
	Replace Tag = "replace"
)

// Opcode 描述 ref[RefStart:RefEnd] 与 hyp[HypStart:HypEnd] 之间的一段对应关系。
//
// 分组规则：insert / delete / replace 每个操作只覆盖一个词元，
// 连续的 equal 合并为一个操作。因此按操作计数与按词元计数一致。
type Opcode struct {
	Tag      Tag
	RefStart int
	RefEnd   int
	HypStart int
	HypEnd   int
}

func (o Opcode) String() string {
	return fmt.Sprintf("%s ref[%d:%d] hyp[%d:%d]", o.Tag, o.RefStart, o.RefEnd, o.HypStart, o.HypEnd)
}

// Result 编辑距离评分结果。
type Result struct {
	ErrorRate     float64
	Distance      int
	Matches       int
	Insertions    int
	Deletions     int
	Substitutions int
	Opcodes       []Opcode
}

// Score 计算 ref 与 hyp 的最小编辑距离（插入、删除、替换代价均为 1）。
// ErrorRate = Distance / len(ref)；ref 为空时返回 ErrDivisionUndefined。
func Score(ref, hyp []string) (Result, error) {
	if len(ref) == 0 {
		return Result{}, ErrDivisionUndefined
	}

	ops := Opcodes(ref, hyp)
	res := Result{Opcodes: ops}
	for _, op := range ops {
		switch op.Tag {
		case Equal:
			res.Matches += op.RefEnd - op.RefStart
		case Insert:
			res.Insertions++
		case Delete:
			res.Deletions++
		case Replace:
			res.Substitutions++
		}
	}
	res.Distance = res.Insertions + res.Deletions + res.Substitutions
	res.ErrorRate = float64(res.Distance) / float64(len(ref))
	return res, nil
}

// Opcodes 返回覆盖两个序列全部内容的编辑脚本。
// 回溯时代价相同优先匹配，其次替换、删除、插入。
func Opcodes(ref, hyp []string) []Opcode {
	n, m := len(ref), len(hyp)
	cols := m + 1
	d := make([]int, (n+1)*cols)
	for i := 0; i <= n; i++ {
		d[i*cols] = i
	}
	for j := 0; j <= m; j++ {
		d[j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			sub := d[(i-1)*cols+j-1]
			if ref[i-1] != hyp[j-1] {
				sub++
			}
			d[i*cols+j] = min(sub, d[(i-1)*cols+j]+1, d[i*cols+j-1]+1)
		}
	}

	// 从 (n, m) 回溯，得到逆序的单步操作
	var steps []Opcode
	i, j := n, m
	for i > 0 || j > 0 {
		cost := d[i*cols+j]
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1] && d[(i-1)*cols+j-1] == cost:
			steps = append(steps, Opcode{Equal, i - 1, i, j - 1, j})
			i, j = i-1, j-1
		case i > 0 && j > 0 && d[(i-1)*cols+j-1]+1 == cost:
			steps = append(steps, Opcode{Replace, i - 1, i, j - 1, j})
			i, j = i-1, j-1
		case i > 0 && d[(i-1)*cols+j]+1 == cost:
			steps = append(steps, Opcode{Delete, i - 1, i, j, j})
			i--
		default:
			steps = append(steps, Opcode{Insert, i, i, j - 1, j})
			j--
		}
	}

	// 反转并合并连续的 equal
	ops := make([]Opcode, 0, len(steps))
	for k := len(steps) - 1; k >= 0; k-- {
		s := steps[k]
		if s.Tag == Equal && len(ops) > 0 {
			last := &ops[len(ops)-1]
			if last.Tag == Equal && last.RefEnd == s.RefStart && last.HypEnd == s.HypStart {
				last.RefEnd, last.HypEnd = s.RefEnd, s.HypEnd
				continue
			}
		}
		ops = append(ops, s)
	}
	return ops
}

// Replay 按编辑脚本重建参考序列与识别序列，用于校验脚本的完整性。
func Replay(ref, hyp []string, ops []Opcode) (gotRef, gotHyp []string) {
	gotRef = []string{}
	gotHyp = []string{}
	for _, op := range ops {
		gotRef = append(gotRef, ref[op.RefStart:op.RefEnd]...)
		gotHyp = append(gotHyp, hyp[op.HypStart:op.HypEnd]...)
	}
	return gotRef, gotHyp
}
