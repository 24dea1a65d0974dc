package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"vorion/pkg/verifier"
)

func runChainVerify(args []string) int {
	fs := flag.NewFlagSet("chain verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var pubHex string
	var pubB64 string

	fs.StringVar(&inPath, "in", "", "exported records JSON file")
	fs.StringVar(&pubHex, "pubkey-hex", "", "chain signing public key (hex)")
	fs.StringVar(&pubB64, "pubkey-base64", "", "chain signing public key (base64)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "chain verify requires --in")
		return 1
	}
	pub, err := decodePublicKey(pubHex, pubB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load public key: %v\n", err)
		return 1
	}

	payload, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read records: %v\n", err)
		return 1
	}
	var export struct {
		Records []verifier.RecordExport `json:"records"`
	}
	if err := json.Unmarshal(payload, &export); err != nil {
		fmt.Fprintf(os.Stderr, "decode records: %v\n", err)
		return 1
	}

	result, err := verifier.VerifyChain(export.Records, pub, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify chain: %v\n", err)
		return 1
	}
	if result.Valid {
		fmt.Printf("status=valid entity=%s from=%d to=%d\n", result.EntityID, result.From, result.To)
		return 0
	}
	fmt.Printf("status=broken entity=%s position=%d reason=%s\n", result.EntityID, *result.BrokenAt, result.Reason)
	return 1
}

func decodePublicKey(pubHex, pubB64 string) (ed25519.PublicKey, error) {
	switch {
	case pubHex != "":
		raw, err := hex.DecodeString(pubHex)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
		}
		return ed25519.PublicKey(raw), nil
	case pubB64 != "":
		raw, err := base64.StdEncoding.DecodeString(pubB64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
		}
		return ed25519.PublicKey(raw), nil
	}
	return nil, fmt.Errorf("one of --pubkey-hex or --pubkey-base64 is required")
}
