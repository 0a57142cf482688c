package contracts

import _ "embed"

// ReceiptSchema is the JSON Schema every externally exposed receipt record
// must conform to. Conformance is enforced in tests so the wire shape cannot
// drift from the Receipt struct silently.
//
//go:embed schemas/receipt.schema.json
var ReceiptSchema []byte
