package engine

import (
	"fmt"
	"io"
	"os"

	"github.com/kumodl/kumo/internal/utils"
)

// assemble concatenates the part files into the output path in index order.
// Results arrive indexed by position, so completion order during the fetch
// phase has no bearing on byte order here. The cumulative size is checked
// against each recorded part size as it is copied.
func (e *Engine) assemble(results []ChunkResult) (int64, error) {
	out, err := os.OpenFile(e.req.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	buffer := make([]byte, utils.DefaultBufferSize)
	var total int64
	for _, result := range results {
		part, err := os.Open(result.Path)
		if err != nil {
			return 0, fmt.Errorf("opening part %d: %w", result.Index, err)
		}
		n, err := io.CopyBuffer(out, part, buffer)
		part.Close()
		if err != nil {
			return 0, fmt.Errorf("copying part %d: %w", result.Index, err)
		}
		if n != result.Size {
			return 0, fmt.Errorf("part %d holds %d bytes, fetch recorded %d", result.Index, n, result.Size)
		}
		total += n
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("syncing output file: %w", err)
	}
	return total, nil
}
