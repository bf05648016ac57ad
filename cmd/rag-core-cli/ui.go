// Package main provides output utilities for the RAG core CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
)

func printSuccess(format string, args ...interface{}) {
	if outputJSON {
		return
	}
	color.New(color.FgGreen).Printf("✓ %s\n", fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...interface{}) {
	if outputJSON {
		return
	}
	color.New(color.FgYellow).Printf("⚠ %s\n", fmt.Sprintf(format, args...))
}

func printKeyValue(key string, value interface{}) {
	if outputJSON {
		return
	}
	color.New(color.FgCyan).Printf("  %s: ", key)
	fmt.Printf("%v\n", value)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
