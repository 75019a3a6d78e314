package main

import (
	"fmt"
	"os"

	"github.com/queryforge/queryforge/internal/cli/queryforgectl"
)

func main() {
	root := queryforgectl.NewRootCommand(queryforgectl.Options{
		BaseURL: os.Getenv("QUERYFORGE_CTL_BASE_URL"),
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
