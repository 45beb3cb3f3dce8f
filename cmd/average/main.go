package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/iabetor/ttseval/internal/aggregate"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/store"
)

func main() {
	input := flag.String("input", "", "逐条结果文件（JSON Lines）")
	result := flag.String("result", "", "汇总结果输出路径，为空则只打印")
	dbPath := flag.String("db", "", "结果数据库路径，与 -run 一起使用代替 -input")
	runID := flag.String("run", "", "要汇总的运行 ID")
	require := flag.String("require", "", "必须存在的指标，逗号分隔")
	flag.Parse()

	agg := aggregate.New()
	var err error
	switch {
	case *dbPath != "" && *runID != "":
		err = fromStore(agg, *dbPath, *runID)
	case *input != "":
		err = fromFile(agg, *input)
	default:
		fmt.Fprintln(os.Stderr, "用法: average -input results.jsonl [-result summary.json]")
		fmt.Fprintln(os.Stderr, "      average -db ttseval.db -run <运行ID> [-result summary.json]")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取结果失败: %v\n", err)
		os.Exit(1)
	}

	for _, k := range strings.Split(*require, ",") {
		if k = strings.TrimSpace(k); k == "" {
			continue
		}
		if _, err := agg.Mean(k); err != nil {
			fmt.Fprintf(os.Stderr, "指标 %s: %v\n", k, err)
			os.Exit(1)
		}
	}

	summary, err := agg.Summary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "汇总失败: %v\n", err)
		os.Exit(1)
	}

	if *result != "" {
		f, err := os.Create(*result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "创建汇总文件失败: %v\n", err)
			os.Exit(1)
		}
		err = summary.WriteJSON(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "写出汇总失败: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("共 %d 条记录\n", agg.Records())
	summary.Render(os.Stdout, agg.Count)
}

func fromFile(agg *aggregate.Aggregator, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if err := agg.AddJSON(b); err != nil {
			return fmt.Errorf("第 %d 行: %w", line, err)
		}
	}
	return sc.Err()
}

func fromStore(agg *aggregate.Aggregator, dbPath, runID string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("运行 %s 不存在", runID)
	}
	recs, err := st.Records(runID)
	if err != nil {
		return err
	}
	logger.Infof("[average] 运行 %s: 清单 %s，%d 条记录", run.ID, run.Manifest, len(recs))
	for _, r := range recs {
		if err := agg.AddJSON(r.Line); err != nil {
			return fmt.Errorf("记录 %s: %w", r.Key, err)
		}
	}
	return nil
}
