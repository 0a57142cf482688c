package ledgerdb

import (
	"context"

	"github.com/Mindburn-Labs/veritas/pkg/chain"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// Client wraps an Adapter with a fixed access token, presenting it on every
// call. It is the chain.Adapter handed to the rest of the system; the raw
// Adapter rejects any operation whose context lacks the token.
type Client struct {
	ledger *Adapter
	token  string
}

// NewClient binds the token to the ledger. The token is validated lazily, on
// the first operation, so a wrong token surfaces as ErrUnauthorized rather
// than a construction failure.
func NewClient(ledger *Adapter, token string) *Client {
	return &Client{ledger: ledger, token: token}
}

func (c *Client) Network() tiers.NetworkID { return c.ledger.Network() }

func (c *Client) Commit(ctx context.Context, payload chain.CommitPayload) (*chain.CommitReceipt, error) {
	return c.ledger.Commit(WithToken(ctx, c.token), payload)
}

func (c *Client) Read(ctx context.Context, ref string) (*chain.CommitPayload, error) {
	return c.ledger.Read(WithToken(ctx, c.token), ref)
}

// VerifyChain walks the underlying ledger with the client's token.
func (c *Client) VerifyChain(ctx context.Context) error {
	return c.ledger.VerifyChain(WithToken(ctx, c.token))
}

var _ chain.Adapter = (*Client)(nil)
