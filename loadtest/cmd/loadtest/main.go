// Package main is the entry point for the live-app load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: Connection saturation test
//   - chat:     Room chat load test — many users in shared rooms exchanging messages
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test — opens N authenticated idle connections")
	fmt.Println("  chat        Room chat load test — users join live sessions and exchange messages")
	fmt.Println()
	fmt.Println("Both scenarios authenticate with HS256 tokens signed locally, so the")
	fmt.Println("-secret flag must match the server's JWT_SECRET and the referenced user")
	fmt.Println("and livestream rows must exist in PostgreSQL.")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
