package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "issue":
		return runIssueCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "assess":
		return runAssessCmd(args[2:], stdout, stderr)
	case "consensus":
		return runConsensusCmd(args[2:], stdout, stderr)
	case "demo":
		return runDemoCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sVERITAS Core %s%s\n", ColorBold+ColorBlue, "v0.1.0", ColorReset)
	fmt.Fprintf(w, "%sEvery package hashed. Every receipt anchored.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  veritas <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "RECEIPTS")
	printCommand(w, "issue", "Issue a receipt for a package (--package, --network)")
	printCommand(w, "verify", "Verify a receipt against a package (--receipt, --package)")

	printSection(w, "CONSENSUS")
	printCommand(w, "assess", "Submit an agency assessment (--receipt-id, --agency, --confidence)")
	printCommand(w, "consensus", "Compute consensus for a receipt (--receipt-id)")

	printSection(w, "UTILITIES")
	printCommand(w, "demo", "Run the in-memory end-to-end walkthrough")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
