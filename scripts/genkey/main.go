// genkey prepares credentials for shiko's authenticated HTTP transport.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey [-dir data] [-jwt=false]
//
// Writes data/jwt_private.pem and data/jwt_public.pem (mode 0600) unless
// -jwt=false, then prints a fresh API key and the SHIKO_API_KEY_HASH value
// to put in the server's environment. The key itself is shown once and is
// not stored anywhere.
//
// The server generates ephemeral JWT keys when SHIKO_JWT_PRIVATE_KEY is
// unset, but those are discarded on restart, invalidating every issued
// token. Persistent keys prevent that.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ashita-ai/shiko/internal/auth"
)

func main() {
	dir := flag.String("dir", "data", "directory for the JWT key pair")
	withJWT := flag.Bool("jwt", true, "also generate a JWT signing key pair")
	flag.Parse()

	if err := run(*dir, *withJWT); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir string, withJWT bool) error {
	if withJWT {
		privPath, pubPath, err := auth.WriteKeyPair(dir)
		if err != nil {
			return err
		}
		fmt.Printf("SHIKO_JWT_PRIVATE_KEY=%s\n", privPath)
		fmt.Printf("SHIKO_JWT_PUBLIC_KEY=%s\n", pubPath)
	}

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	fmt.Printf("SHIKO_API_KEY_HASH=%s\n", hash)
	fmt.Fprintf(os.Stderr, "\nAPI key (shown once, give it to your MCP client):\n  %s\n", key)
	return nil
}
