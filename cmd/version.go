package cmd

import (
	"fmt"
	"os"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.0.1"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

func runVersion() {
	fmt.Printf("firsthand %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)

	if key := os.Getenv("OPENROUTER_KEY"); key != "" {
		fmt.Println("OPENROUTER_KEY: configured")
	} else {
		fmt.Println("OPENROUTER_KEY: not set")
	}
}
