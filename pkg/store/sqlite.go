package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteReceiptStore implements ReceiptStore over database/sql with the
// modernc sqlite driver.
type SQLiteReceiptStore struct {
	db *sql.DB
}

func NewSQLiteReceiptStore(db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS receipts (
        receipt_id TEXT PRIMARY KEY,
        actor_id TEXT NOT NULL,
        package_hash TEXT NOT NULL,
        merkle_root TEXT,
        merkle_proof JSON,
        signature TEXT NOT NULL,
        signer_public_key_id TEXT NOT NULL,
        network TEXT NOT NULL,
        tx_reference TEXT,
        committed_at DATETIME,
        tier TEXT NOT NULL,
        status TEXT NOT NULL,
        supersedes TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_receipts_actor_hash
        ON receipts (actor_id, package_hash);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const receiptColumns = `receipt_id, actor_id, package_hash, merkle_root, merkle_proof,
        signature, signer_public_key_id, network, tx_reference, committed_at,
        tier, status, supersedes`

func (s *SQLiteReceiptStore) Put(ctx context.Context, r *contracts.Receipt) error {
	proofJSON, err := marshalProof(r.MerkleProof)
	if err != nil {
		return err
	}
	query := `INSERT INTO receipts (` + receiptColumns + `, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.ReceiptID, r.ActorID, r.PackageHash, nullable(r.MerkleRoot), proofJSON,
		r.Signature, r.SignerPublicKeyID, r.Network, nullable(r.TxReference),
		formatTime(r.CommittedAt), r.Tier, string(r.Status), nullable(r.Supersedes),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: receipt %s", ErrDuplicate, r.ReceiptID)
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteReceiptStore) Update(ctx context.Context, r *contracts.Receipt) error {
	proofJSON, err := marshalProof(r.MerkleProof)
	if err != nil {
		return err
	}
	query := `UPDATE receipts SET
        merkle_root = ?, merkle_proof = ?, signature = ?, network = ?,
        tx_reference = ?, committed_at = ?, status = ?, supersedes = ?
        WHERE receipt_id = ?`
	res, err := s.db.ExecContext(ctx, query,
		nullable(r.MerkleRoot), proofJSON, r.Signature, r.Network,
		nullable(r.TxReference), formatTime(r.CommittedAt), string(r.Status),
		nullable(r.Supersedes), r.ReceiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to update receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: receipt %s", ErrNotFound, r.ReceiptID)
	}
	return nil
}

func (s *SQLiteReceiptStore) Get(ctx context.Context, receiptID string) (*contracts.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE receipt_id = ?`
	return s.queryOne(ctx, query, receiptID)
}

func (s *SQLiteReceiptStore) GetCommittedByActorAndHash(ctx context.Context, actorID, packageHash string) (*contracts.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts
        WHERE actor_id = ? AND package_hash = ? AND status = ?
        ORDER BY created_at DESC
        LIMIT 1`
	return s.queryOne(ctx, query, actorID, packageHash, string(contracts.StatusCommitted))
}

func (s *SQLiteReceiptStore) List(ctx context.Context, limit int) ([]*contracts.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts
        ORDER BY created_at DESC
        LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*contracts.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows.Scan)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (s *SQLiteReceiptStore) queryOne(ctx context.Context, query string, args ...any) (*contracts.Receipt, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	r, err := scanReceipt(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanReceipt(scan func(dest ...any) error) (*contracts.Receipt, error) {
	var (
		receiptID   string
		actorID     string
		packageHash string
		merkleRoot  sql.NullString
		proofJSON   sql.NullString
		signature   string
		signerKeyID string
		network     string
		txReference sql.NullString
		committedAt sql.NullString
		tier        string
		status      string
		supersedes  sql.NullString
	)
	if err := scan(&receiptID, &actorID, &packageHash, &merkleRoot, &proofJSON,
		&signature, &signerKeyID, &network, &txReference, &committedAt,
		&tier, &status, &supersedes); err != nil {
		return nil, err
	}

	var proof []contracts.ProofStep
	if proofJSON.Valid && proofJSON.String != "" {
		if err := json.Unmarshal([]byte(proofJSON.String), &proof); err != nil {
			return nil, fmt.Errorf("corrupt merkle proof for receipt %s: %w", receiptID, err)
		}
	}

	return &contracts.Receipt{
		ReceiptID:         receiptID,
		ActorID:           actorID,
		PackageHash:       packageHash,
		MerkleRoot:        merkleRoot.String,
		MerkleProof:       proof,
		Signature:         signature,
		SignerPublicKeyID: signerKeyID,
		Network:           network,
		TxReference:       txReference.String,
		CommittedAt:       parseTime(committedAt.String),
		Tier:              tier,
		Status:            contracts.ReceiptStatus(status),
		Supersedes:        supersedes.String,
	}, nil
}

// SQLiteAssessmentStore implements AssessmentStore. Version monotonicity is
// enforced inside one transaction so concurrent resubmissions cannot both
// win.
type SQLiteAssessmentStore struct {
	db *sql.DB
}

func NewSQLiteAssessmentStore(db *sql.DB) (*SQLiteAssessmentStore, error) {
	s := &SQLiteAssessmentStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAssessmentStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS assessments (
        receipt_id TEXT NOT NULL,
        agency_id TEXT NOT NULL,
        assessment_id TEXT NOT NULL,
        confidence REAL NOT NULL,
        version INTEGER NOT NULL,
        submitted_at DATETIME NOT NULL,
        assessment_hash TEXT,
        PRIMARY KEY (receipt_id, agency_id)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteAssessmentStore) Upsert(ctx context.Context, a *contracts.AgencyAssessment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var stored uint64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM assessments WHERE receipt_id = ? AND agency_id = ?`,
		a.ReceiptID, a.AgencyID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assessments (receipt_id, agency_id, assessment_id, confidence, version, submitted_at, assessment_hash)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ReceiptID, a.AgencyID, a.AssessmentID, a.Confidence, a.Version,
			a.SubmittedAt.UTC().Format(time.RFC3339Nano), nullable(a.AssessmentHash))
		if err != nil {
			return fmt.Errorf("failed to insert assessment: %w", err)
		}
	case err != nil:
		return err
	case a.Version <= stored:
		return fmt.Errorf("%w: agency %s receipt %s version %d <= %d",
			ErrStaleVersion, a.AgencyID, a.ReceiptID, a.Version, stored)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE assessments SET assessment_id = ?, confidence = ?, version = ?, submitted_at = ?, assessment_hash = ?
             WHERE receipt_id = ? AND agency_id = ?`,
			a.AssessmentID, a.Confidence, a.Version,
			a.SubmittedAt.UTC().Format(time.RFC3339Nano), nullable(a.AssessmentHash),
			a.ReceiptID, a.AgencyID)
		if err != nil {
			return fmt.Errorf("failed to update assessment: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteAssessmentStore) ListByReceipt(ctx context.Context, receiptID string) ([]*contracts.AgencyAssessment, error) {
	query := `SELECT receipt_id, agency_id, assessment_id, confidence, version, submitted_at, assessment_hash
        FROM assessments
        WHERE receipt_id = ?
        ORDER BY agency_id ASC`
	rows, err := s.db.QueryContext(ctx, query, receiptID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AgencyAssessment
	for rows.Next() {
		var (
			a           contracts.AgencyAssessment
			submittedAt string
			hash        sql.NullString
		)
		if err := rows.Scan(&a.ReceiptID, &a.AgencyID, &a.AssessmentID,
			&a.Confidence, &a.Version, &submittedAt, &hash); err != nil {
			return nil, err
		}
		a.SubmittedAt = parseTime(submittedAt)
		a.AssessmentHash = hash.String
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalProof(proof []contracts.ProofStep) (string, error) {
	if len(proof) == 0 {
		return "", nil
	}
	b, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("failed to marshal merkle proof: %w", err)
	}
	return string(b), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

var (
	_ ReceiptStore    = (*SQLiteReceiptStore)(nil)
	_ AssessmentStore = (*SQLiteAssessmentStore)(nil)
)
