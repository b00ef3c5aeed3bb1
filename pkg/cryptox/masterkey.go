package cryptox

import (
	"fmt"
	"os"
	"strings"
)

// LoadMasterKey resolves key material for NewSealer. A file path wins over
// the inline value. Both empty means sealing is disabled and (nil, nil) is
// returned.
func LoadMasterKey(path, inline string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}

		// Editors love trailing newlines
		data = []byte(strings.TrimSpace(string(data)))
		if len(data) == 0 {
			return nil, fmt.Errorf("master key file %s is empty", path)
		}
		return data, nil
	}

	if inline != "" {
		return []byte(inline), nil
	}

	return nil, nil
}
