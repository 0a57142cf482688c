package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"
)

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptPath string
		receiptID   string
		packagePath string
		jsonOutput  bool
	)
	cmd.StringVar(&receiptPath, "receipt", "", "Path to the receipt JSON")
	cmd.StringVar(&receiptID, "receipt-id", "", "Receipt id to load from the store (alternative to --receipt)")
	cmd.StringVar(&packagePath, "package", "", "Path to the intelligence package JSON (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if packagePath == "" || (receiptPath == "" && receiptID == "") {
		fmt.Fprintln(stderr, "Error: --package and one of --receipt or --receipt-id are required")
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

	var receipt *contracts.Receipt
	if receiptPath != "" {
		data, err := os.ReadFile(receiptPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error reading receipt: %v\n", err)
			return 2
		}
		receipt = &contracts.Receipt{}
		if err := json.Unmarshal(data, receipt); err != nil {
			fmt.Fprintf(stderr, "Error parsing receipt: %v\n", err)
			return 2
		}
	} else {
		receipt, err = core.receipts.Get(ctx, receiptID)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading receipt %s: %v\n", receiptID, err)
			return 1
		}
	}

	result := core.manager.VerifyReceipt(ctx, receipt, pkg)

	if jsonOutput {
		out := map[string]any{
			"receipt_id": receipt.ReceiptID,
			"result":     string(result),
			"valid":      result == contracts.VerificationValid,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if result == contracts.VerificationValid {
		fmt.Fprintf(stdout, "%s✓ %s%s\n", ColorBold+ColorGreen, result, ColorReset)
	} else {
		fmt.Fprintf(stdout, "%s✗ %s%s\n", ColorBold+ColorRed, result, ColorReset)
	}

	if result == contracts.VerificationValid {
		return 0
	}
	return 1
}
