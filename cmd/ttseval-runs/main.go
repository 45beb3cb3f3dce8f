package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/iabetor/ttseval/internal/config"
	"github.com/iabetor/ttseval/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/ttseval.yaml", "配置文件路径")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.Path == "" {
		fmt.Fprintln(os.Stderr, "结果存储未启用，请在配置文件中设置 store.path")
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开结果存储失败: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	switch args[0] {
	case "list":
		cmdList(st)
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "用法: ttseval-runs show <运行ID>")
			os.Exit(1)
		}
		cmdShow(st, args[1])
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "用法: ttseval-runs delete <运行ID>")
			os.Exit(1)
		}
		cmdDelete(st, args[1])
	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "ttseval 运行记录管理工具")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "用法: ttseval-runs [-config <path>] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "命令:")
	fmt.Fprintln(os.Stderr, "  list              列出所有运行")
	fmt.Fprintln(os.Stderr, "  show <运行ID>      按输入顺序输出该运行的结果行")
	fmt.Fprintln(os.Stderr, "  delete <运行ID>    删除运行及其结果")
}

func cmdList(st *store.Store) {
	runs, err := st.ListRuns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "列出运行失败: %v\n", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("当前没有运行记录。")
		return
	}

	fmt.Printf("共 %d 次运行:\n", len(runs))
	fmt.Println("  ID                                   | 创建时间            | 记录数 | 清单")
	fmt.Println("  -------------------------------------+---------------------+--------+----------")
	for _, r := range runs {
		fmt.Printf("  %-37s| %s | %6d | %s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Records, r.Manifest)
	}
}

func cmdShow(st *store.Store, id string) {
	recs, err := st.Records(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		os.Exit(1)
	}
	for _, r := range recs {
		fmt.Println(string(r.Line))
	}
}

func cmdDelete(st *store.Store, id string) {
	if err := st.DeleteRun(id); err != nil {
		fmt.Fprintf(os.Stderr, "删除失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("运行 %s 已删除。\n", id)
}
