package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dealchain/cmd/internal/passphrase"
	"dealchain/crypto"
)

func passphraseFromEnv(envVar string) (string, error) {
	value, ok := os.LookupEnv(envVar)
	if !ok {
		return "", fmt.Errorf("set %s to the keystore passphrase", envVar)
	}
	return passphrase.Static(value).Get()
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := passphraseFromEnv(passEnv)
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	return key, nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	keystorePath := fs.String("keystore", "", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keystorePath) == "" {
		return printError(stderr, "--keystore is required")
	}
	if _, err := os.Stat(*keystorePath); err == nil && !*force {
		return printError(stderr, fmt.Sprintf("keystore %s already exists (use --force to overwrite)", *keystorePath))
	}
	pass, err := passphraseFromEnv(*passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keystorePath := fs.String("keystore", "", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}
