package storage

import "fmt"

// Object layout inside every backend: one directory-like prefix per
// execution, one object per chunk. The same layout on all backends keeps
// retention and restore backend-agnostic.

func ExecutionPrefix(datasourceID, executionID string) string {
	return fmt.Sprintf("%s/%s", datasourceID, executionID)
}

func ChunkPath(datasourceID, executionID string, chunkNumber int) string {
	return fmt.Sprintf("%s/%s/chunk-%06d", datasourceID, executionID, chunkNumber)
}
