package main

import (
	"fmt"
	"os"
)

// main 是 Story.AI 命令行测试工具的入口。
func main() {
	if err := newRootCommand(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
