// Package main 是 lambdasim 命令行工具的入口点。
// lambdasim 连接正在运行的模拟器，调用路由并查看事件流。
package main

import (
	"os"

	"github.com/oriys/lambdasim/cmd/lambdasim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
