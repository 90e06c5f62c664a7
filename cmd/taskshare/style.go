package main

import "github.com/fatih/color"

var (
	Bold     = color.New(color.Bold).SprintFunc()
	Dim      = color.New(color.Faint).SprintFunc()
	Green    = color.New(color.FgGreen).SprintFunc()
	Red      = color.New(color.FgRed).SprintFunc()
	BoldCyan = color.New(color.Bold, color.FgCyan).SprintFunc()
)
