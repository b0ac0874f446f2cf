package domain

import (
	"crypto/md5"
	"encoding/hex"
)

// ChunkCollectionName derives the per-file vector collection from a file id:
// a stable prefix plus the first 12 hex chars of the id's MD5. Per-file
// collections let a re-ingest wipe exactly one file's chunks.
func ChunkCollectionName(fileID string) string {
	sum := md5.Sum([]byte(fileID))
	return "FileChunk_" + hex.EncodeToString(sum[:])[:12]
}
