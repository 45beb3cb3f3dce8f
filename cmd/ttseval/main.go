package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/ttseval/internal/config"
	"github.com/iabetor/ttseval/internal/eval"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/ttseval.yaml", "配置文件路径")
	manifestPath := flag.String("manifest", "", "评测清单（JSON Lines）")
	outputPath := flag.String("output", "results.jsonl", "结果文件路径")
	wavDir := flag.String("wav-dir", "", "合成音频目录，覆盖配置中的 eval.wav_dir")
	workers := flag.Int("workers", 0, "并发记录数，覆盖配置中的 eval.workers")
	resume := flag.String("resume", "", "续跑指定的运行 ID")
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "用法: ttseval -manifest <清单> [-output results.jsonl] [-config <path>] [-resume <运行ID>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *wavDir != "" {
		cfg.Eval.WavDir = *wavDir
	}
	if *workers > 0 {
		cfg.Eval.Workers = *workers
	}
	if cfg.Eval.WavDir == "" {
		fmt.Fprintln(os.Stderr, "未指定合成音频目录（eval.wav_dir 或 -wav-dir）")
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, *manifestPath, *outputPath, *resume); err != nil {
		logger.Errorf("[main] 评测失败: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath, manifestPath, outputPath, resumeID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，已输出的结果会保留
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在停止...", sig)
		cancel()
	}()

	opts := eval.Options{
		WavDir:        cfg.Eval.WavDir,
		Workers:       cfg.Eval.Workers,
		RecordTimeout: cfg.RecordTimeout(),
		FailFast:      cfg.Eval.FailFast,
	}

	switch {
	case cfg.Store.Path != "":
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		if resumeID != "" {
			r, err := st.GetRun(resumeID)
			if err != nil {
				return err
			}
			if r == nil {
				return fmt.Errorf("运行 %s 不存在", resumeID)
			}
			if r.Manifest != manifestPath {
				logger.Warnf("[main] 续跑使用的清单 %s 与原运行 %s 不同", manifestPath, r.Manifest)
			}
			opts.RunID, opts.Resume = resumeID, true
		} else {
			opts.RunID = store.NewRunID()
			if err := st.CreateRun(opts.RunID, manifestPath, configPath); err != nil {
				return err
			}
		}
		opts.Store = st
		logger.Infof("[main] 运行 ID: %s", opts.RunID)
	case resumeID != "":
		return errors.New("续跑需要配置 store.path")
	}

	tk, err := eval.NewToolkit(cfg)
	if err != nil {
		return err
	}
	defer tk.Close()

	in, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("打开清单失败: %w", err)
	}
	defer in.Close()

	// 续跑会重新输出全部记录，结果文件总是重写
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("创建结果文件失败: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	sum, runErr := eval.New(tk.Extractors, opts).Run(ctx, in, w)
	if err := w.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("写出结果失败: %w", err)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && opts.RunID != "" {
			logger.Infof("[main] 已中断，可使用 -resume %s 续跑", opts.RunID)
		}
		return runErr
	}

	logger.Infof("[main] 结果已写入 %s（%d 条）", outputPath, sum.Total)
	return nil
}
