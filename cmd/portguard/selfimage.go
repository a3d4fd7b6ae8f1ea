package main

import (
	"fmt"
	"os"
)

// readSelf returns the bytes of the currently running executable, used
// wherever a command defaults to operating on "this binary" (§6: gen-cli
// and list-key, absent an explicit -i).
func readSelf() ([]byte, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate own executable: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read own executable: %w", err)
	}
	return data, nil
}
