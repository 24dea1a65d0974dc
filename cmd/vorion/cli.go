package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "chain":
		if len(args) >= 3 && args[2] == "verify" {
			return runChainVerify(args[3:])
		}
	case "inclusion":
		if len(args) >= 3 && args[2] == "verify" {
			return runInclusionVerify(args[3:])
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "vorion"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s chain verify --in <records.json> (--pubkey-hex <hex>|--pubkey-base64 <b64>)\n", name)
	fmt.Fprintf(os.Stderr, "  %s inclusion verify --in <proof.json> [--root <hex>]\n", name)
}
