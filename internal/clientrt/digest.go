package clientrt

import (
	"crypto/sha256"
	"fmt"
	"os"
)

// selfDigest hashes the running executable's own file bytes, used to
// answer the server's reverse-register hash challenge (§4.5).
func selfDigest() ([]byte, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read executable: %w", err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
