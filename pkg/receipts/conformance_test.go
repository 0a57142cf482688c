package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"
)

func compiledReceiptSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	require.NoError(t, compiler.AddResource("receipt.schema.json", bytes.NewReader(contracts.ReceiptSchema)))
	schema, err := compiler.Compile("receipt.schema.json")
	require.NoError(t, err)
	return schema
}

func validateReceipt(t *testing.T, schema *jsonschema.Schema, r *contracts.Receipt) error {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var doc any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return schema.Validate(doc)
}

// Issued receipts must conform to the published wire schema, both the direct
// full-data shape and the epoch-batched shape with proof steps.
func TestIssuedReceiptsConformToSchema(t *testing.T) {
	schema := compiledReceiptSchema(t)
	f := newFixture(t)
	ctx := context.Background()

	direct, err := f.manager.IssueReceipt(ctx, unclassifiedPackage("analyst-7"), "public-net")
	require.NoError(t, err)
	require.NoError(t, validateReceipt(t, schema, direct))

	f.manager.RegisterBatcher("agency-net", NewEpochBatcher(f.permissioned, 1, time.Hour))
	classified := unclassifiedPackage("analyst-7")
	classified.Classification = "SECRET"
	batched, err := f.manager.IssueReceipt(ctx, classified, "agency-net")
	require.NoError(t, err)
	require.NotEmpty(t, batched.MerkleRoot)
	require.NoError(t, validateReceipt(t, schema, batched))
}

func TestSchemaRejectsMalformedReceipt(t *testing.T) {
	schema := compiledReceiptSchema(t)
	f := newFixture(t)

	r, err := f.manager.IssueReceipt(context.Background(), unclassifiedPackage("analyst-7"), "public-net")
	require.NoError(t, err)

	bad := *r
	bad.PackageHash = "md5:deadbeef"
	require.Error(t, validateReceipt(t, schema, &bad))

	bad = *r
	bad.Tier = "TIER9_WILD"
	require.Error(t, validateReceipt(t, schema, &bad))

	bad = *r
	bad.Signature = "zz"
	require.Error(t, validateReceipt(t, schema, &bad))
}
