package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultPassEnv = "DEAL_KEY_PASS"
	defaultRPCURL  = "http://localhost:8080"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "hash-offer":
		return runHashOffer(args[1:], stdout, stderr)
	case "sign-offer":
		return runSignOffer(args[1:], stdout, stderr)
	case "sign-checkin":
		return runSignCheckIn(args[1:], stdout, stderr)
	case "sign-permit":
		return runSignPermit(args[1:], stdout, stderr)
	case "rpc":
		return runRPC(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func usage() string {
	return strings.TrimSpace(`Usage:
  dealctl <command> [flags]

Commands:
  keygen        Create an encrypted keystore and print its address
  address       Print the address held by a keystore
  hash-offer    Print the digests an offer commits to
  sign-offer    Sign an offer as the supplier signer
  sign-checkin  Sign the check-in voucher of an offer
  sign-permit   Sign an allowance permit for the deal ledger
  rpc           Call a JSON-RPC method on a running node

Keystore passphrases are read from $DEAL_KEY_PASS unless --pass-env names
another variable.`)
}
