package main

import (
	"github.com/turtacn/accessgate/cmd/cli"
)

// main is the entry point for the accessgate-admin command-line tool.
// main 是 accessgate-admin 命令行工具的入口点。
func main() {
	cli.Execute()
}
