// Command txctl is a small operator CLI: validate a private key, derive
// its EOA address, and preview the next nonce the pipeline would assign.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/evmtx/txpipeline/internal/config"
	"github.com/evmtx/txpipeline/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/txctl <private_key_with_0x>")
		os.Exit(1)
	}

	pkHex := os.Args[1]

	// 1. Validate Private Key
	key, err := crypto.HexToECDSA(pkHex[2:]) // remove 0x
	if err != nil {
		log.Fatalf("❌ Invalid Private Key: %v", err)
	}

	// 2. Derive EOA Address
	pubKey := key.Public()
	eoaAddr := crypto.PubkeyToAddress(*pubKey.(*ecdsa.PublicKey))
	fmt.Printf("\n✅ Private Key is Valid!\n")
	fmt.Printf("🔑 EOA Address: %s\n", eoaAddr.Hex())

	// 3. Preview the next nonce the pipeline would hand out
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("⚠️  Could not load config, skipping nonce preview: %v\n", err)
		return
	}

	ctx := context.Background()
	pl, err := pipeline.NewFromConfig(ctx, cfg)
	if err != nil {
		fmt.Printf("⚠️  Could not reach node, skipping nonce preview: %v\n", err)
		return
	}

	nonce, err := pl.NonceMgr.Acquire(ctx, eoaAddr)
	if err != nil {
		fmt.Printf("⚠️  Nonce preview failed: %v\n", err)
		return
	}
	fmt.Printf("🔢 Next nonce: %d\n", nonce)
	if releaseErr := pl.NonceMgr.Release(ctx, eoaAddr, nonce); releaseErr != nil {
		fmt.Printf("⚠️  Could not release preview nonce: %v\n", releaseErr)
	}
}
