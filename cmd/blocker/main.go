package main

import "github.com/vanpelt/claude-blocker/internal/cmd"

func main() {
	cmd.Execute()
}
