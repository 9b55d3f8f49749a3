// Package identity parses the on-disk identity file (spec §6):
// /etc/<product>/identity, a flat key=value text file. The only key the
// core depends on is SERIAL_NUMBER, used by the Entitlement Manager to
// validate a token's serial_number claim.
package identity

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMissingSerialNumber is returned by Load when the file parses but
// has no SERIAL_NUMBER key.
var ErrMissingSerialNumber = errors.New("identity: SERIAL_NUMBER not present")

// Identity is the parsed contents of the identity file.
type Identity struct {
	SerialNumber string
	Extra        map[string]string
}

// Load reads and parses the identity file at path.
func Load(path string) (*Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", path, err)
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	serial, ok := fields["SERIAL_NUMBER"]
	if !ok || serial == "" {
		return nil, ErrMissingSerialNumber
	}
	delete(fields, "SERIAL_NUMBER")

	return &Identity{SerialNumber: serial, Extra: fields}, nil
}
