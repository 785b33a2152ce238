package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"parley/internal/webhook"
)

// signwebhook prints the headers of a signed identity webhook delivery for
// the body read from stdin, for replaying events with curl.
func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: signwebhook <secret> <message-id> < body.json")
		os.Exit(1)
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	sig, err := webhook.Sign(os.Args[1], os.Args[2], now, body)
	if err != nil {
		fmt.Printf("Error signing webhook: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("webhook-id: %s\n", os.Args[2])
	fmt.Printf("webhook-timestamp: %s\n", strconv.FormatInt(now.Unix(), 10))
	fmt.Printf("webhook-signature: %s\n", sig)
}
