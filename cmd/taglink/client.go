package main

import (
	"fmt"

	"taglink/logix"
)

// openClient connects to the controller named by the persistent flags.
// The caller closes the returned client.
func openClient() (*logix.Client, error) {
	if flagAddr == "" {
		return nil, fmt.Errorf("--addr is required")
	}

	opts := []logix.Option{
		logix.WithTimeout(flagTimeout),
	}
	if flagSlot != 0 {
		opts = append(opts, logix.WithSlot(byte(flagSlot)))
	}

	client, err := logix.Connect(flagAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", flagAddr, err)
	}
	return client, nil
}
