// xcachectl 是 tilecache 的命令行工具。
//
// 用法:
//
//	xcachectl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config     配置文件路径（YAML/JSON），缺省时按独立运行处理
//	    --section    缓存配置所在的节 (默认: large_image)
//	    --log-level  日志级别 (默认: info)
//
// 命令:
//
//	estimate       按系统内存估算缓存容量
//	probe          探测配置的远端缓存服务
//	serve          运行缓存管理 HTTP 接口
//	info           查询运行中服务的缓存容量和条目数
//	clear          清空运行中服务的全部或指定缓存
//
// 退出码:
//
//	0: 成功
//	1: 命令执行失败（如远端服务不可用）
//	2: 参数错误
//
// 示例:
//
//	xcachectl estimate --size-each 524288 --portion 8
//	xcachectl -c girder.yaml probe
//	xcachectl -c girder.yaml serve --addr :8080 --cache tileCache --cache tilesource
//	xcachectl info --addr http://127.0.0.1:8080
//	xcachectl clear --addr http://127.0.0.1:8080 --name tileCache
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// 版本信息，可通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xcachectl",
		Usage:   "tilecache 缓存工具",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（YAML/JSON）",
			},
			&cli.StringFlag{
				Name:  "section",
				Usage: "缓存配置所在的节",
				Value: "large_image",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug/info/warn/error)",
				Value: "info",
			},
		},
		Commands: createCommands(),
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			// 退出码由 run 统一映射，不允许 urfave/cli 直接 os.Exit。
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := createApp().Run(ctx, args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}
