// Package eval 读取评测清单，逐条计算指标并按输入顺序输出结果。
package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/metrics"
	"github.com/iabetor/ttseval/internal/store"
)

// Result 输出的一行结果，未计算或失败的指标不出现在 JSON 中。
type Result struct {
	GenWav string `json:"gen_wav"`
	metrics.Record
}

// Encode 序列化为一行 JSON，不转义 HTML 字符，不含换行。
func (r Result) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ResultStore 持久化已输出的结果，用于中断后续跑。
type ResultStore interface {
	SaveRecord(runID string, rec store.Record) error
	Completed(runID string) (map[string]store.Record, error)
}

// Options 评测流程参数。
type Options struct {
	WavDir        string
	Workers       int           // 并发记录数，<= 1 为串行
	RecordTimeout time.Duration // 单条记录的超时，0 为不限制
	FailFast      bool          // 任一指标失败即终止

	Store  ResultStore // 可选
	RunID  string
	Resume bool // 跳过 Store 中已完整完成的记录，直接输出其结果
}

// Summary 一次运行的统计。
type Summary struct {
	Total    int // 已输出的记录数
	Complete int // 所有指标成功
	Partial  int // 部分指标失败
	Failed   int // 整条记录失败
	Resumed  int // 续跑时直接复用的记录
	Elapsed  time.Duration
}

// Pipeline 评测编排器。指标按 extractors 的顺序依次执行；
// 同一个协作者实例被所有 worker 共享，由协作者自己保证串行。
type Pipeline struct {
	extractors []metrics.Extractor
	opts       Options
}

// New 创建评测编排器。
func New(extractors []metrics.Extractor, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{extractors: extractors, opts: opts}
}

// outcome 一条记录的处理结果，由 worker 交给写出方。
type outcome struct {
	seq      int
	key      string
	line     []byte
	complete bool
	failed   bool
	resumed  bool
	err      error // 第一个错误，fail_fast 时终止运行
	state    *recordMachine
}

// Run 读取 manifest，把结果逐行写入 out，顺序与清单一致。
// 清单格式错误、写出失败、fail_fast 下的指标失败以及 ctx 取消会终止运行。
func (p *Pipeline) Run(ctx context.Context, manifest io.Reader, out io.Writer) (Summary, error) {
	start := time.Now()
	var sum Summary

	var done map[string]store.Record
	if p.opts.Store != nil && p.opts.Resume {
		var err error
		if done, err = p.opts.Store.Completed(p.opts.RunID); err != nil {
			return sum, fmt.Errorf("读取已完成记录失败: %w", err)
		}
		logger.Infof("[eval] 续跑 %s: 已完成 %d 条", p.opts.RunID, len(done))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// inflight 限制已读入但尚未写出的记录数，避免乱序缓冲无限增长
	capacity := p.opts.Workers * 4
	inflight := make(chan struct{}, capacity)
	results := make(chan outcome, capacity)
	readErr := make(chan error, 1)

	pool := newWorkerPool(p.opts.Workers, func(ctx context.Context, j job) {
		results <- p.process(ctx, j, done)
	})
	pool.Start(runCtx)

	go func() {
		defer func() {
			pool.Stop()
			close(results)
		}()

		reader := NewManifestReader(manifest, p.opts.WavDir)
		for seq := 0; ; seq++ {
			u, err := reader.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				readErr <- err
				cancel()
				return
			}
			select {
			case inflight <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			if !pool.Submit(runCtx, job{seq: seq, utt: u}) {
				return
			}
		}
	}()

	pending := make(map[int]outcome)
	next := 0
	var firstErr error
	for o := range results {
		pending[o.seq] = o
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			<-inflight

			if firstErr != nil {
				continue
			}
			if err := p.emit(ctx, out, ready, &sum); err != nil {
				firstErr = err
				cancel()
			}
		}
	}

	select {
	case err := <-readErr:
		if firstErr == nil {
			firstErr = err
		}
	default:
	}
	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}

	sum.Elapsed = time.Since(start)
	logger.Infof("[eval] 评测结束: 输出 %d 条（完整 %d，部分失败 %d，失败 %d，续跑复用 %d），耗时 %v",
		sum.Total, sum.Complete, sum.Partial, sum.Failed, sum.Resumed, sum.Elapsed.Round(time.Millisecond))
	return sum, firstErr
}

// process 计算一条记录的全部指标。
func (p *Pipeline) process(ctx context.Context, j job, done map[string]store.Record) outcome {
	u := j.utt
	o := outcome{seq: j.seq, key: u.Key}

	if rec, ok := done[u.Key]; ok {
		o.line, o.complete, o.resumed = rec.Line, true, true
		return o
	}

	sm := newRecordMachine(u.Key, nil)
	o.state = sm
	res := Result{GenWav: u.DegPath}

	pair := metrics.NewPair(u.RefPath, u.DegPath, u.Text)
	if err := pair.Load(); err != nil {
		logger.Errorf("[eval] %s 音频不可用: %v", u.Key, err)
		sm.Transition(StateFailed)
		o.failed = true
		o.err = fmt.Errorf("%s: %w", u.Key, err)
		o.line, _ = res.Encode()
		return o
	}
	sm.Transition(StateAudioResolved)

	rctx := ctx
	if p.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, p.opts.RecordTimeout)
		defer cancel()
	}

	failures := 0
	for _, ex := range p.extractors {
		err := ex.Extract(rctx, pair, &res.Record)
		if err == nil {
			continue
		}
		failures++
		if o.err == nil {
			o.err = fmt.Errorf("%s %s: %w", u.Key, ex.Name(), err)
		}
		logFailure(u.Key, ex.Name(), err)
		if rctx.Err() != nil {
			break
		}
	}

	if err := rctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Errorf("[eval] %s 超过单条超时 %v", u.Key, p.opts.RecordTimeout)
		}
		sm.Transition(StateFailed)
		o.failed = true
		if o.err == nil {
			o.err = fmt.Errorf("%s: %w", u.Key, err)
		}
	} else {
		sm.Transition(StateMetricsComputed)
		o.complete = failures == 0
	}

	line, err := res.Encode()
	if err != nil {
		o.err = fmt.Errorf("%s 序列化结果失败: %w", u.Key, err)
		o.failed, o.complete = true, false
		return o
	}
	o.line = line
	return o
}

func logFailure(key, metric string, err error) {
	var ce *metrics.CollaboratorError
	if errors.As(err, &ce) {
		logger.Warnf("[eval] %s 指标 %s 外部模型失败，已跳过: %v", key, metric, ce.Err)
		return
	}
	logger.Warnf("[eval] %s 指标 %s 计算失败，已跳过: %v", key, metric, err)
}

// emit 写出一条结果并保存到 Store。
func (p *Pipeline) emit(ctx context.Context, out io.Writer, o outcome, sum *Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.err != nil && p.opts.FailFast {
		return o.err
	}
	if o.line == nil {
		return o.err
	}

	if _, err := out.Write(append(o.line, '\n')); err != nil {
		return fmt.Errorf("写出结果失败: %w", err)
	}
	if o.state != nil && !o.failed {
		o.state.Transition(StateEmitted)
	}

	sum.Total++
	switch {
	case o.resumed:
		sum.Resumed++
	case o.failed:
		sum.Failed++
	case o.complete:
		sum.Complete++
	default:
		sum.Partial++
	}

	if p.opts.Store != nil && !o.resumed {
		rec := store.Record{Seq: o.seq, Key: o.key, Line: o.line, Complete: o.complete}
		if err := p.opts.Store.SaveRecord(p.opts.RunID, rec); err != nil {
			return err
		}
	}
	return nil
}
