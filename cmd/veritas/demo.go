package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/audit"
	"github.com/Mindburn-Labs/veritas/pkg/chain"
	"github.com/Mindburn-Labs/veritas/pkg/consensus"
	"github.com/Mindburn-Labs/veritas/pkg/contracts"
	"github.com/Mindburn-Labs/veritas/pkg/crypto"
	"github.com/Mindburn-Labs/veritas/pkg/receipts"
	"github.com/Mindburn-Labs/veritas/pkg/store"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// runDemoCmd walks the full pipeline in memory: issue, verify, tamper,
// assess, and compute consensus. Nothing touches disk or the network.
func runDemoCmd(stdout, stderr io.Writer) int {
	ctx := context.Background()

	fmt.Fprintf(stdout, "%sVERITAS demo%s (ephemeral, in-memory)\n\n", ColorBold+ColorBlue, ColorReset)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	signer, err := crypto.NewEd25519Signer(priv, "demo-signer")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	keyring := crypto.NewKeyRing()
	verifier, _ := crypto.NewVerifier(signer.PublicKey(), signer.KeyID())
	keyring.Add(verifier)

	policy, err := tiers.NewPolicy([]tiers.Network{
		{ID: "public-net", Permissioned: false},
		{ID: "agency-net", Permissioned: true},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	receiptStore := store.NewMemoryReceiptStore()
	mgr, err := receipts.NewManager(receipts.Config{
		Signer:  signer,
		KeyRing: keyring,
		Policy:  policy,
		Store:   receiptStore,
		Auditor: audit.Nop{},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	mgr.RegisterAdapter(chain.NewMemoryAdapter("public-net"))
	mgr.RegisterAdapter(chain.NewMemoryAdapter("agency-net"))

	// 1. Issue a receipt for an unclassified package.
	pkg := &contracts.IntelligencePackage{
		Payload: map[string]any{
			"report":     "sanctions-network-q3",
			"entities":   []any{"acme-shipping", "blue-harbor-llc"},
			"assessment": "coordinated layering through front companies",
		},
		Classification: "UNCLASSIFIED",
		ActorID:        "analyst-7",
		CreatedAt:      time.Now().UTC(),
	}

	receipt, err := mgr.IssueReceipt(ctx, pkg, "public-net")
	if err != nil {
		fmt.Fprintf(stderr, "Error issuing receipt: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s1. Issued%s receipt %s\n", ColorBold+ColorGreen, ColorReset, receipt.ReceiptID)
	fmt.Fprintf(stdout, "   tier %s, network %s, tx %s\n", receipt.Tier, receipt.Network, receipt.TxReference)

	// 2. Verify it against the untouched package.
	result := mgr.VerifyReceipt(ctx, receipt, pkg)
	fmt.Fprintf(stdout, "%s2. Verified:%s %s\n", ColorBold+ColorGreen, ColorReset, result)

	// 3. Tamper with the package and verify again.
	tampered := *pkg
	tampered.Payload = map[string]any{"report": "sanctions-network-q3", "assessment": "no wrongdoing found"}
	result = mgr.VerifyReceipt(ctx, receipt, &tampered)
	fmt.Fprintf(stdout, "%s3. Tampered package:%s %s\n", ColorBold+ColorRed, ColorReset, result)

	// 4. Agencies assess the receipt; one dissents hard.
	engine, err := consensus.NewEngine(store.NewMemoryAssessmentStore(), receiptStore, audit.Nop{})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for agency, confidence := range map[string]float64{
		"cia": 0.85, "dhs": 0.60, "treasury": 0.72, "dia": 0.10,
	} {
		if _, err := engine.SubmitAssessment(ctx, &contracts.AgencyAssessment{
			ReceiptID:  receipt.ReceiptID,
			AgencyID:   agency,
			Confidence: confidence,
			Version:    1,
		}); err != nil {
			fmt.Fprintf(stderr, "Error submitting assessment: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(stdout, "%s4. Assessments:%s cia=0.85 dhs=0.60 treasury=0.72 dia=0.10\n", ColorBold+ColorCyan, ColorReset)

	consensusResult, err := engine.ComputeConsensus(ctx, receipt.ReceiptID)
	if err != nil {
		fmt.Fprintf(stderr, "Error computing consensus: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s5. Consensus:%s mean=%.4f stddev=%.4f outliers=%v\n",
		ColorBold+ColorCyan, ColorReset, consensusResult.Mean, consensusResult.StdDev, consensusResult.Outliers)
	fmt.Fprintf(stdout, "   recommendation: %s\n", consensusResult.Recommendation)

	return 0
}
