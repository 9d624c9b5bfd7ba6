package engine

import "fmt"

// Plan partitions size bytes into chunkSize ranges. Every range except
// possibly the last spans exactly chunkSize bytes, the last is clamped to the
// end of the file. The ranges are contiguous, non-overlapping and cover
// [0, size-1] exactly.
func Plan(size, chunkSize int64) ([]ChunkRange, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if size < 0 {
		return nil, fmt.Errorf("file size must be non-negative, got %d", size)
	}
	if size == 0 {
		return nil, nil
	}
	count := (size + chunkSize - 1) / chunkSize
	ranges := make([]ChunkRange, 0, count)
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize - 1
		if end > size-1 {
			end = size - 1
		}
		ranges = append(ranges, ChunkRange{Index: len(ranges), Start: start, End: end})
	}
	return ranges, nil
}
