package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"vorion/pkg/verifier"
)

func runInclusionVerify(args []string) int {
	fs := flag.NewFlagSet("inclusion verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var rootHex string

	fs.StringVar(&inPath, "in", "", "inclusion proof JSON file")
	fs.StringVar(&rootHex, "root", "", "expected root hash (hex), overrides the proof's root")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "inclusion verify requires --in")
		return 1
	}

	payload, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read proof: %v\n", err)
		return 1
	}
	var proof verifier.InclusionExport
	if err := json.Unmarshal(payload, &proof); err != nil {
		fmt.Fprintf(os.Stderr, "decode proof: %v\n", err)
		return 1
	}

	included, err := verifier.VerifyInclusion(proof, rootHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify inclusion: %v\n", err)
		return 1
	}
	if included {
		fmt.Printf("status=included entity=%s position=%d\n", proof.EntityID, proof.Position)
		return 0
	}
	fmt.Printf("status=not_included entity=%s position=%d\n", proof.EntityID, proof.Position)
	return 1
}
