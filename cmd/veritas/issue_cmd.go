package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

func runIssueCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("issue", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packagePath string
		network     string
		jsonOutput  bool
	)
	cmd.StringVar(&packagePath, "package", "", "Path to the intelligence package JSON (REQUIRED)")
	cmd.StringVar(&network, "network", "", "Target network id (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the receipt as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if packagePath == "" || network == "" {
		fmt.Fprintln(stderr, "Error: --package and --network are required")
		cmd.Usage()
		return 2
	}

	pkg, err := readPackage(packagePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading package: %v\n", err)
		return 2
	}

	ctx := context.Background()
	core, cleanup, err := buildCore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, finish := core.obs.TrackOperation(ctx, "receipts.issue",
		attribute.String("veritas.network", network))
	receipt, err := core.manager.IssueReceipt(ctx, pkg, tiers.NetworkID(network))
	finish(err)
	if err != nil {
		var violation *tiers.TierViolationError
		if errors.As(err, &violation) {
			fmt.Fprintf(stderr, "%s✗ Rejected:%s %v\n", ColorBold+ColorRed, ColorReset, violation)
			return 1
		}
		fmt.Fprintf(stderr, "Error issuing receipt: %v\n", err)
		if receipt != nil {
			printReceipt(stderr, receipt, jsonOutput)
		}
		return 1
	}

	if !jsonOutput {
		fmt.Fprintf(stdout, "%s✓ Receipt issued%s\n", ColorBold+ColorGreen, ColorReset)
	}
	printReceipt(stdout, receipt, jsonOutput)
	return 0
}

func readPackage(path string) (*contracts.IntelligencePackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pkg contracts.IntelligencePackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &pkg, nil
}

func printReceipt(w io.Writer, r *contracts.Receipt, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(r, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "   Receipt:  %s\n", r.ReceiptID)
	fmt.Fprintf(w, "   Actor:    %s\n", r.ActorID)
	fmt.Fprintf(w, "   Hash:     %s\n", r.PackageHash)
	fmt.Fprintf(w, "   Tier:     %s\n", r.Tier)
	fmt.Fprintf(w, "   Network:  %s\n", r.Network)
	fmt.Fprintf(w, "   Status:   %s\n", r.Status)
	if r.TxReference != "" {
		fmt.Fprintf(w, "   Tx:       %s\n", r.TxReference)
	}
	if r.MerkleRoot != "" {
		fmt.Fprintf(w, "   Root:     %s\n", r.MerkleRoot)
	}
}
