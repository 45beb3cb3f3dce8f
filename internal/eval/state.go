package eval

import (
	"github.com/iabetor/ttseval/internal/logger"
)

// RecordState 表示单条记录的处理阶段。
type RecordState int

const (
	// StatePending 已从清单读出，尚未检查音频。
	StatePending RecordState = iota
	// StateAudioResolved 参考音频和合成音频都已找到。
	StateAudioResolved
	// StateMetricsComputed 所有启用的指标都已执行（部分可能失败）。
	StateMetricsComputed
	// StateEmitted 结果已写出。
	StateEmitted
	// StateFailed 记录整体失败（音频缺失或超时）。
	StateFailed
)

var stateNames = [...]string{
	"Pending",
	"AudioResolved",
	"MetricsComputed",
	"Emitted",
	"Failed",
}

func (s RecordState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// recordMachine 跟踪一条记录的状态，只在处理该记录的 goroutine 中使用。
type recordMachine struct {
	key      string
	current  RecordState
	onChange func(key string, from, to RecordState)
}

func newRecordMachine(key string, onChange func(key string, from, to RecordState)) *recordMachine {
	return &recordMachine{key: key, current: StatePending, onChange: onChange}
}

// Current 返回当前状态。
func (m *recordMachine) Current() RecordState { return m.current }

// Transition 尝试切换状态。只有合法的转换才会生效：
//
//	Pending         → AudioResolved
//	AudioResolved   → MetricsComputed
//	MetricsComputed → Emitted
//
// Emitted 之外的任何状态都可以转换到 Failed。
func (m *recordMachine) Transition(to RecordState) bool {
	if !validTransition(m.current, to) {
		logger.Warnf("[eval] %s 非法状态转换 %s → %s", m.key, m.current, to)
		return false
	}

	from := m.current
	m.current = to
	logger.Debugf("[eval] %s %s → %s", m.key, from, to)

	if m.onChange != nil {
		m.onChange(m.key, from, to)
	}
	return true
}

// validTransition 检查状态转换是否合法。
func validTransition(from, to RecordState) bool {
	if to == StateFailed {
		return from != StateEmitted && from != StateFailed
	}
	switch from {
	case StatePending:
		return to == StateAudioResolved
	case StateAudioResolved:
		return to == StateMetricsComputed
	case StateMetricsComputed:
		return to == StateEmitted
	}
	return false
}
