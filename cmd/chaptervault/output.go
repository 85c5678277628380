package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Color functions for terminal output
var (
	cyan    = colorize(text.FgCyan)
	yellow  = colorize(text.FgYellow)
	red     = colorize(text.FgRed)
	green   = colorize(text.FgGreen)
	magenta = colorize(text.FgMagenta)
	dim     = colorize(text.Faint)
)

func colorize(c text.Color) func(string) string {
	return func(s string) string {
		return c.Sprint(s)
	}
}

// setColor turns ANSI colors on or off for every helper and table
func setColor(enabled bool) {
	if enabled {
		text.EnableColors()
	} else {
		text.DisableColors()
	}
}

func printError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(os.Stderr, red(msg))
	}
}

func printSuccess(msg string) {
	fmt.Println(green(msg))
}

func printInfo(label string, value string) {
	fmt.Printf("%s: %s\n", cyan(label), yellow(value))
}

func printWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Println(yellow(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Println(yellow(msg))
	}
}

func printHighlight(msg string) {
	fmt.Println(magenta(msg))
}

// newTable returns a table writer to stdout in the CLI's style
func newTable(header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(table.Row(header))
	return t
}
