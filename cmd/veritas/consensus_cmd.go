package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"
)

func runAssessCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("assess", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptID  string
		agencyID   string
		confidence float64
		version    uint64
	)
	cmd.StringVar(&receiptID, "receipt-id", "", "Receipt the assessment refers to (REQUIRED)")
	cmd.StringVar(&agencyID, "agency", "", "Submitting agency id (REQUIRED)")
	cmd.Float64Var(&confidence, "confidence", -1, "Confidence score in [0,1] (REQUIRED)")
	cmd.Uint64Var(&version, "version", 1, "Assessment version; resubmissions must increase it")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if receiptID == "" || agencyID == "" || confidence < 0 {
		fmt.Fprintln(stderr, "Error: --receipt-id, --agency, and --confidence are required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	core, cleanup, err := buildCore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	outcome, err := core.engine.SubmitAssessment(ctx, &contracts.AgencyAssessment{
		ReceiptID:   receiptID,
		AgencyID:    agencyID,
		Confidence:  confidence,
		Version:     version,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error submitting assessment: %v\n", err)
		return 1
	}

	switch outcome {
	case contracts.SubmissionAccepted:
		fmt.Fprintf(stdout, "%s✓ Accepted%s %s by %s (v%d)\n", ColorBold+ColorGreen, ColorReset, receiptID, agencyID, version)
		return 0
	default:
		fmt.Fprintf(stdout, "%s✗ Duplicate rejected:%s version %d is not newer than the stored assessment\n",
			ColorBold+ColorYellow, ColorReset, version)
		return 1
	}
}

func runConsensusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("consensus", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptID  string
		jsonOutput bool
	)
	cmd.StringVar(&receiptID, "receipt-id", "", "Receipt to compute consensus for (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if receiptID == "" {
		fmt.Fprintln(stderr, "Error: --receipt-id is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	core, cleanup, err := buildCore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	result, err := core.engine.ComputeConsensus(ctx, receiptID)
	if err != nil {
		fmt.Fprintf(stderr, "Error computing consensus: %v\n", err)
		return 1
	}

	printConsensus(stdout, result, jsonOutput)
	return 0
}

func printConsensus(w io.Writer, result *contracts.ConsensusResult, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "   Receipt:        %s\n", result.ReceiptID)
	fmt.Fprintf(w, "   Assessments:    %d\n", result.N)
	fmt.Fprintf(w, "   Mean:           %.4f\n", result.Mean)
	fmt.Fprintf(w, "   StdDev:         %.4f\n", result.StdDev)
	if len(result.Outliers) > 0 {
		fmt.Fprintf(w, "   Outliers:       %s%v%s\n", ColorBold+ColorRed, result.Outliers, ColorReset)
	}
	fmt.Fprintf(w, "   Recommendation: %s\n", result.Recommendation)
}
