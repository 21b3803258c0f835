// brokerops-verify independently re-verifies integrity artifacts: an
// exported evidence pack, the decision token inside it, and audit chains
// read straight from the database. It holds no state of its own — every
// hash is recomputed from the presented content, so it can run on a
// reviewer's machine far away from the services that produced the data.
//
// Usage:
//
//	brokerops-verify -pack evidence.json [-policy-hash <hex>] [-secret <key>] [-key-id <id>]
//	brokerops-verify -db postgres://... -trace <trace-id>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/brokerops/core/pkg/chain"
	"github.com/brokerops/core/pkg/contracts"
	"github.com/brokerops/core/pkg/database"
	"github.com/brokerops/core/pkg/evidence"
	"github.com/brokerops/core/pkg/token"
)

func main() {
	var (
		packPath   = flag.String("pack", "", "path to an exported evidence pack JSON file")
		policyHash = flag.String("policy-hash", "", "expected policy snapshot hash (from the decision token)")
		secret     = flag.String("secret", os.Getenv("BROKEROPS_SIGNING_SECRET"), "signing secret for token verification")
		keyID      = flag.String("key-id", os.Getenv("BROKEROPS_SIGNING_KEY_ID"), "signing key id")
		dbDSN      = flag.String("db", "", "database DSN for direct chain verification")
		traceID    = flag.String("trace", "", "trace id to verify when reading from the database")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	switch {
	case *packPath != "":
		if !verifyPack(logger, *packPath, *policyHash, *secret, *keyID) {
			os.Exit(1)
		}
	case *dbDSN != "" && *traceID != "":
		if !verifyStoredChain(logger, *dbDSN, *traceID) {
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func verifyPack(logger *slog.Logger, path, policyHash, secret, keyID string) bool {
	raw, err := os.ReadFile(path) //nolint:gosec // reviewer-supplied path
	if err != nil {
		logger.Error("read pack", "err", err)
		return false
	}
	pack, err := evidence.Import(raw)
	if err != nil {
		logger.Error("parse pack", "err", err)
		return false
	}

	ok := true

	verdict := evidence.Verify(pack)
	if verdict.IsValid {
		logger.Info("evidence pack verified", "trace_id", pack.Manifest.TraceID,
			"components", len(pack.Manifest.ComponentHashes))
	} else {
		ok = false
		for _, e := range verdict.Errors {
			logger.Error("evidence pack failure", "error", e)
		}
	}

	if policyHash != "" {
		res := evidence.VerifyPolicyConsistency(pack, policyHash)
		if res.Consistent {
			logger.Info("policy snapshot consistent with authorization-time hash")
		} else {
			ok = false
			logger.Error("policy drift detected", "error", res.Error)
		}
	}

	if secret != "" {
		if !verifyBundledToken(logger, pack, secret, keyID) {
			ok = false
		}
	}

	if ok {
		fmt.Println("OK")
	}
	return ok
}

func verifyBundledToken(logger *slog.Logger, pack *evidence.Pack, secret, keyID string) bool {
	// The decision component round-trips through generic JSON during
	// import; re-marshal to decode it into the typed token.
	raw, err := json.Marshal(pack.Components.Decision)
	if err != nil {
		logger.Error("re-marshal decision", "err", err)
		return false
	}
	var tok contracts.DecisionToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		logger.Error("decision component is not a decision token", "err", err)
		return false
	}

	verifier := token.NewVerifier(token.SigningContext{KeyID: keyID, Secret: []byte(secret)})
	res := verifier.Verify(tok)
	if !res.Valid {
		logger.Error("decision token failed verification", "reason", res.Reason,
			"compact", token.CompactSignature(tok))
		return false
	}
	logger.Info("decision token verified", "trace_id", tok.Payload.TraceID,
		"decision", tok.Payload.Decision, "compact", token.CompactSignature(tok))
	return true
}

func verifyStoredChain(logger *slog.Logger, dsn, traceID string) bool {
	ctx := context.Background()
	db, err := database.Open(ctx, dsn)
	if err != nil {
		logger.Error("open database", "err", err)
		return false
	}
	defer func() { _ = db.Close() }()

	store := chain.NewSQLStore(db)
	events, err := store.Events(ctx, traceID)
	if err != nil {
		logger.Error("read chain", "err", err)
		return false
	}
	if len(events) == 0 {
		logger.Error("no audit events for trace", "trace_id", traceID)
		return false
	}

	v := chain.VerifyChain(events)
	if !v.Valid {
		logger.Error("audit chain broken", "trace_id", traceID,
			"broken_at_index", v.BrokenAtIndex, "reason", v.Reason, "detail", v.Detail)
		return false
	}
	logger.Info("audit chain verified", "trace_id", traceID, "events", len(events))
	fmt.Println("OK")
	return true
}
