package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/veritas/pkg/audit"
	"github.com/Mindburn-Labs/veritas/pkg/chain"
	"github.com/Mindburn-Labs/veritas/pkg/chain/evm"
	"github.com/Mindburn-Labs/veritas/pkg/chain/ledgerdb"
	"github.com/Mindburn-Labs/veritas/pkg/config"
	"github.com/Mindburn-Labs/veritas/pkg/consensus"
	"github.com/Mindburn-Labs/veritas/pkg/crypto"
	"github.com/Mindburn-Labs/veritas/pkg/observability"
	"github.com/Mindburn-Labs/veritas/pkg/receipts"
	"github.com/Mindburn-Labs/veritas/pkg/store"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// core bundles the wired subsystems a command needs.
type core struct {
	cfg      *config.Config
	manager  *receipts.Manager
	engine   *consensus.Engine
	receipts store.ReceiptStore
	obs      *observability.Provider
	batchers []*receipts.EpochBatcher
	db       *sql.DB
}

// buildCore wires stores, signer, adapters and the manager from process
// configuration. The returned cleanup flushes pending epochs and closes the
// database.
func buildCore(ctx context.Context) (*core, func(), error) {
	cfg := config.Load()

	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.TelemetryOn
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %q: %w", cfg.DatabasePath, err)
	}

	receiptStore, err := store.NewSQLiteReceiptStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init receipt store: %w", err)
	}
	assessmentStore, err := store.NewSQLiteAssessmentStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init assessment store: %w", err)
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	policy, err := registry.Policy()
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build tier policy: %w", err)
	}

	signer, err := loadOrGenerateSigner(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	keyring := crypto.NewKeyRing()
	verifier, err := crypto.NewVerifier(signer.PublicKey(), signer.KeyID())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	keyring.Add(verifier)

	auditor := audit.NewLogger()

	var lock receipts.IssuanceLock
	if cfg.RedisAddr != "" {
		lock = receipts.NewRedisIssuanceLock(cfg.RedisAddr, os.Getenv("VERITAS_REDIS_PASSWORD"), 0)
		log.Printf("[veritas] issuance lock: redis at %s", cfg.RedisAddr)
	}

	mgr, err := receipts.NewManager(receipts.Config{
		Signer:     signer,
		KeyRing:    keyring,
		Policy:     policy,
		Store:      receiptStore,
		Auditor:    auditor,
		Lock:       lock,
		MaxRetries: cfg.CommitRetries,
		RetryBase:  cfg.RetryBase,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	c := &core{
		cfg:      cfg,
		manager:  mgr,
		receipts: receiptStore,
		obs:      obs,
		db:       db,
	}

	for _, n := range registry.Networks {
		adapter, err := buildAdapter(ctx, db, n)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("wire network %q: %w", n.ID, err)
		}
		adapter = chain.NewBreakerAdapter(adapter, 5, 10*time.Second)
		mgr.RegisterAdapter(adapter)

		batcher := receipts.NewEpochBatcher(adapter, cfg.EpochSize, cfg.EpochInterval)
		network := string(n.ID)
		batcher.SetFlushObserver(func(ctx context.Context, size int) {
			obs.RecordEpochSize(ctx, size, attribute.String("veritas.network", network))
		})
		mgr.RegisterBatcher(n.ID, batcher)
		c.batchers = append(c.batchers, batcher)
	}

	engine, err := consensus.NewEngine(assessmentStore, receiptStore, auditor)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	c.engine = engine

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, b := range c.batchers {
			b.Close(shutdownCtx)
		}
		_ = obs.Shutdown(shutdownCtx)
		_ = db.Close()
	}
	return c, cleanup, nil
}

// loadRegistry reads the configured network registry, falling back to a
// built-in dev registry when no file exists.
func loadRegistry(cfg *config.Config) (*config.Registry, error) {
	if _, err := os.Stat(cfg.RegistryPath); err == nil {
		return config.LoadRegistry(cfg.RegistryPath)
	}
	log.Printf("[veritas] registry: %s not found, using built-in dev networks", cfg.RegistryPath)
	return &config.Registry{Networks: []tiers.Network{
		{ID: "public-net", Permissioned: false, Description: "in-process public dev chain"},
		{ID: "agency-net", Permissioned: true, Description: "in-process permissioned dev ledger"},
	}}, nil
}

// buildAdapter picks the commit backend for one network. Permissioned
// networks use the hash-chained SQL ledger; public networks use a real EVM
// endpoint when one is configured and an in-memory chain otherwise.
func buildAdapter(ctx context.Context, db *sql.DB, n tiers.Network) (chain.Adapter, error) {
	if n.Permissioned {
		token := os.Getenv("VERITAS_LEDGER_TOKEN")
		if token == "" {
			raw := make([]byte, 16)
			if _, err := rand.Read(raw); err != nil {
				return nil, err
			}
			token = hex.EncodeToString(raw)
			log.Printf("[veritas] ledger %q: VERITAS_LEDGER_TOKEN not set, generated ephemeral token", n.ID)
		}
		ledger, err := ledgerdb.NewAdapter(db, n.ID, token)
		if err != nil {
			return nil, err
		}
		return ledgerdb.NewClient(ledger, token), nil
	}

	rpcURL := os.Getenv("VERITAS_EVM_RPC_URL")
	keyHex := os.Getenv("VERITAS_EVM_KEY")
	if rpcURL != "" && keyHex != "" {
		key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse VERITAS_EVM_KEY: %w", err)
		}
		chainID, err := strconv.ParseInt(os.Getenv("VERITAS_EVM_CHAIN_ID"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse VERITAS_EVM_CHAIN_ID: %w", err)
		}
		log.Printf("[veritas] network %q: EVM endpoint %s", n.ID, rpcURL)
		return evm.NewAdapter(ctx, evm.Config{
			Network: n.ID,
			RPCURL:  rpcURL,
			ChainID: big.NewInt(chainID),
		}, key)
	}

	log.Printf("[veritas] network %q: no EVM endpoint configured, using in-memory chain", n.ID)
	return chain.NewMemoryAdapter(n.ID), nil
}

// loadOrGenerateSigner loads the hex-encoded ed25519 seed from the configured
// key file, generating and persisting one outside production.
func loadOrGenerateSigner(cfg *config.Config) (crypto.Signer, error) {
	keyPath := cfg.SignerKeyFile
	if keyPath == "" {
		keyPath = filepath.Join("data", "veritas.key")
	}

	if _, err := os.Stat(keyPath); err == nil {
		keyHex, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read signer key: %w", err)
		}
		seed, err := hex.DecodeString(strings.TrimSpace(string(keyHex)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signer key %s is not a hex ed25519 seed", keyPath)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		log.Printf("[veritas] trust: loaded signer key %s", cfg.SignerKeyID)
		return crypto.NewEd25519Signer(priv, cfg.SignerKeyID)
	}

	if os.Getenv("VERITAS_PRODUCTION") == "1" {
		return nil, fmt.Errorf("production mode requires %s to exist", keyPath)
	}

	log.Printf("[veritas] trust: generating new signer key at %s", keyPath)
	fmt.Fprintf(os.Stdout, "\n%s⚠️  SECURITY WARNING: Using auto-generated signing key.%s\n", ColorBold+ColorYellow, ColorReset)
	fmt.Fprintf(os.Stdout, "   Key saved to: %s\n", keyPath)
	fmt.Fprintf(os.Stdout, "   In production, use a hardware security module (HSM) or cloud KMS.\n\n")

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv.Seed())), 0600); err != nil {
		return nil, fmt.Errorf("save signer key: %w", err)
	}
	pubPath := keyPath + ".pub"
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0644); err != nil {
		log.Printf("⚠️  failed to save %s: %v", pubPath, err)
	}

	return crypto.NewEd25519Signer(priv, cfg.SignerKeyID)
}
