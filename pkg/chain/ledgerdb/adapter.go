// Package ledgerdb implements a permissioned append-only ledger over sqlite.
// Each entry is hash-chained to its predecessor, so tampering with any stored
// payload breaks every reference issued after it. It stands in for an
// agency-operated permissioned chain in deployments without one.
package ledgerdb

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/chain"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"

	_ "modernc.org/sqlite"
)

// entryPrefix domain-separates ledger entry hashes from every other hash in
// the system.
const entryPrefix = "veritas:ledger:entry:v1\x00"

// ErrUnauthorized reports a missing or wrong access token. The ledger is a
// permissioned target; anonymous use is never allowed.
var ErrUnauthorized = errors.New("ledgerdb: unauthorized")

// ErrChainBroken reports a stored entry whose hash chain no longer verifies.
var ErrChainBroken = errors.New("ledgerdb: hash chain broken")

// Adapter implements chain.Adapter over a local sqlite ledger. A single
// writer lock serializes appends so the chain head never forks.
type Adapter struct {
	network   tiers.NetworkID
	db        *sql.DB
	authToken string

	mu sync.Mutex
}

// NewAdapter opens the ledger and runs migrations. The auth token must be
// non-empty; every operation checks it against the token carried on the
// context (see WithToken). Callers holding the token can use Client instead
// of threading it through every context themselves.
func NewAdapter(db *sql.DB, network tiers.NetworkID, authToken string) (*Adapter, error) {
	if strings.TrimSpace(authToken) == "" {
		return nil, errors.New("ledgerdb: auth token is required")
	}
	a := &Adapter{network: network, db: db, authToken: authToken}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS ledger_entries (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        entry_hash TEXT NOT NULL UNIQUE,
        prev_hash TEXT NOT NULL,
        payload BLOB NOT NULL,
        appended_at DATETIME NOT NULL
    );`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Authorize checks the presented token in constant time.
func (a *Adapter) Authorize(token string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.authToken)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

type tokenKey struct{}

// WithToken returns a context carrying the ledger access token. Every
// adapter operation requires one; a missing or wrong token fails with
// ErrUnauthorized before any statement runs.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

func (a *Adapter) authorize(ctx context.Context, op string) error {
	if err := a.Authorize(tokenFrom(ctx)); err != nil {
		return a.fail(op, false, err)
	}
	return nil
}

func (a *Adapter) Network() tiers.NetworkID { return a.network }

// Commit appends the payload envelope as the new chain head.
func (a *Adapter) Commit(ctx context.Context, payload chain.CommitPayload) (*chain.CommitReceipt, error) {
	if err := a.authorize(ctx, "commit"); err != nil {
		return nil, err
	}
	raw, err := payload.MarshalBinary()
	if err != nil {
		return nil, a.fail("commit", false, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prevHash, prevSeq, err := a.head(ctx)
	if err != nil {
		return nil, a.fail("commit", true, err)
	}
	seq := prevSeq + 1
	entryHash := entryHash(seq, prevHash, raw)
	appendedAt := time.Now().UTC()

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (seq, entry_hash, prev_hash, payload, appended_at) VALUES (?, ?, ?, ?, ?)`,
		seq, entryHash, prevHash, raw, appendedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, a.fail("commit", true, fmt.Errorf("failed to append entry: %w", err))
	}

	return &chain.CommitReceipt{
		Network:     a.network,
		TxRef:       fmt.Sprintf("ledger:%d:%s", seq, entryHash),
		BlockNumber: seq,
		CommittedAt: appendedAt,
	}, nil
}

// Read loads the entry behind a reference and verifies its hash before
// returning the payload. A stored entry that fails verification is surfaced
// as ErrChainBroken, never returned as data.
func (a *Adapter) Read(ctx context.Context, ref string) (*chain.CommitPayload, error) {
	if err := a.authorize(ctx, "read"); err != nil {
		return nil, err
	}
	seq, wantHash, err := parseRef(ref)
	if err != nil {
		return nil, a.fail("read", false, err)
	}

	row := a.db.QueryRowContext(ctx,
		`SELECT entry_hash, prev_hash, payload FROM ledger_entries WHERE seq = ?`, seq)
	var (
		storedHash string
		prevHash   string
		raw        []byte
	)
	if err := row.Scan(&storedHash, &prevHash, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, chain.ErrNotFound
		}
		return nil, a.fail("read", true, err)
	}

	if storedHash != wantHash || entryHash(seq, prevHash, raw) != storedHash {
		return nil, a.fail("read", false, ErrChainBroken)
	}

	payload, err := chain.DecodePayload(raw)
	if err != nil {
		return nil, a.fail("read", false, err)
	}
	return &payload, nil
}

// VerifyChain walks the full ledger from genesis and checks every link.
func (a *Adapter) VerifyChain(ctx context.Context) error {
	if err := a.authorize(ctx, "verify chain"); err != nil {
		return err
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT seq, entry_hash, prev_hash, payload FROM ledger_entries ORDER BY seq ASC`)
	if err != nil {
		return a.fail("verify chain", true, err)
	}
	defer func() { _ = rows.Close() }()

	expectedPrev := ""
	expectedSeq := uint64(0)
	for rows.Next() {
		var (
			seq        uint64
			storedHash string
			prevHash   string
			raw        []byte
		)
		if err := rows.Scan(&seq, &storedHash, &prevHash, &raw); err != nil {
			return a.fail("verify chain", true, err)
		}
		expectedSeq++
		if seq != expectedSeq || prevHash != expectedPrev || entryHash(seq, prevHash, raw) != storedHash {
			return fmt.Errorf("%w: entry %d", ErrChainBroken, seq)
		}
		expectedPrev = storedHash
	}
	if err := rows.Err(); err != nil {
		return a.fail("verify chain", true, err)
	}
	return nil
}

// head returns the current chain tip hash and sequence, empty at genesis.
func (a *Adapter) head(ctx context.Context) (string, uint64, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT seq, entry_hash FROM ledger_entries ORDER BY seq DESC LIMIT 1`)
	var (
		seq  uint64
		hash string
	)
	if err := row.Scan(&seq, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, err
	}
	return hash, seq, nil
}

func entryHash(seq uint64, prevHash string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(entryPrefix))
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	h.Write(seqBytes[:])
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func parseRef(ref string) (uint64, string, error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 3 || parts[0] != "ledger" {
		return 0, "", fmt.Errorf("malformed ledger reference %q", ref)
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed ledger sequence in %q: %w", ref, err)
	}
	if len(parts[2]) != sha256.Size*2 {
		return 0, "", fmt.Errorf("malformed entry hash in %q", ref)
	}
	return seq, parts[2], nil
}

func (a *Adapter) fail(op string, retryable bool, err error) error {
	return &chain.AdapterError{Network: a.network, Op: op, Retryable: retryable, Err: err}
}

var _ chain.Adapter = (*Adapter)(nil)
