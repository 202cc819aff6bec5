package main

import "fmt"

// Build metadata set via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=abc123 -X main.date=2026-01-15" ./cmd/envsync/
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func printVersion() {
	if commit == "" && date == "" {
		fmt.Println(version)
		return
	}
	fmt.Printf("%s (commit %s, built %s)\n", version, commit, date)
}
