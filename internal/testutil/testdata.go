package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// LoadJSON reads a JSON fixture stored next to this file. If target is provided,
// the fixture is also unmarshaled into it.
func LoadJSON(filename string, target ...any) (any, error) {
	data, err := ReadFixture(filename)
	if err != nil {
		return nil, err
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		if err := json.Unmarshal(data, target[0]); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// ReadFixture returns the raw bytes of a fixture stored next to this file.
func ReadFixture(filename string) ([]byte, error) {
	_, currentFile, _, _ := runtime.Caller(0)
	dir := filepath.Dir(currentFile)
	return os.ReadFile(filepath.Join(dir, filename))
}
