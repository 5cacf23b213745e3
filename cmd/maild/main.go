package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "serve":
		err = runServe(args)
	case "authd":
		err = runAuthd(args)
	case "useradd":
		err = runUseradd(args)
	case "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "maild %s: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `maild - POP3 retrieval and SMTP submission server

Usage:
  maild [serve] [options]      Run the POP3 and SMTP services (default)
  maild authd [options]        Serve the user database over gRPC
  maild useradd [options]      Create or update a user
  maild help                   Show this help message

Use 'maild <command> -h' for the options of a command.
`)
}
