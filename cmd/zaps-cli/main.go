package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"zapspay/cmd/internal/keysource"
	"zapspay/crypto"
	"zapspay/ledger"
)

const usage = `zaps-cli - operator tooling for the zapspay relay

Commands:
  keygen    [-out <path>]    generate a fee-payer keypair
  address   -seed <spec>     derive the G... address for a seed
  asset-id  -passphrase <p> -asset <a>
                             resolve an asset to its contract identity
  token     -secret <spec> -subject <s> [-scope <scopes>] [-ttl <d>]
                             mint a development bearer token

Key-source specs accept env:NAME, file:PATH, prompt, or a literal value.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "address":
		err = runAddress(os.Args[2:])
	case "asset-id":
		err = runAssetID(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "zaps-cli: %v\n", err)
		os.Exit(1)
	}
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "write the seed to this file with 0600 permissions instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if *out != "" {
		if err := crypto.SaveSeedFile(*out, key); err != nil {
			return err
		}
		fmt.Printf("address: %s\nseed written to %s\n", key.Address(), *out)
		return nil
	}
	// The seed goes to stdout only; it is the operator's job to move it
	// into a secret store.
	fmt.Printf("address: %s\nseed:    %s\n", key.Address(), key.Seed())
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	seedSpec := fs.String("seed", "prompt", "key source for the seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	seed, err := keysource.New(*seedSpec, "seed").Get()
	if err != nil {
		return err
	}
	key, err := crypto.ParseSeed(seed)
	if err != nil {
		return err
	}
	fmt.Println(key.Address())
	return nil
}

func runAssetID(args []string) error {
	fs := flag.NewFlagSet("asset-id", flag.ExitOnError)
	passphrase := fs.String("passphrase", "", "network passphrase")
	assetSpec := fs.String("asset", "", "asset (XLM or CODE:ISSUER)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*passphrase) == "" {
		return fmt.Errorf("-passphrase is required")
	}
	asset, err := ledger.ParseAsset(*assetSpec)
	if err != nil {
		return err
	}
	network := ledger.Network{Passphrase: *passphrase}
	fmt.Println(asset.Contract(network.ID()))
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secretSpec := fs.String("secret", "env:ZAPS_GATEWAY_SECRET", "key source for the HMAC secret")
	subject := fs.String("subject", "", "token subject")
	scope := fs.String("scope", "payments:read payments:write", "space-separated scopes")
	issuer := fs.String("issuer", "", "issuer claim")
	audience := fs.String("audience", "", "audience claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return fmt.Errorf("-subject is required")
	}
	secret, err := keysource.New(*secretSpec, "gateway auth secret").Get()
	if err != nil {
		return err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   *subject,
		"scope": *scope,
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	}
	if *issuer != "" {
		claims["iss"] = *issuer
	}
	if *audience != "" {
		claims["aud"] = *audience
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
