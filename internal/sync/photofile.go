package sync

import (
	"fmt"
	"os"
)

func readPhotoFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sync: read %s: %w", path, err)
	}
	return data, nil
}
