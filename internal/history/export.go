package history

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// ExportOptions bounds one export run.
type ExportOptions struct {
	GuardType string
	Since     time.Time
	BatchSize int
}

// ExportParquet streams history records into a Parquet file in batches,
// newest last, so the output is ordered by insertion time.
func (s *Store) ExportParquet(ctx context.Context, path string, opts ExportOptions) (int64, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)

	var total int64
	lastID := int64(0)
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		var batch []Record
		query := `SELECT * FROM usage_history
		          WHERE id > $1 AND created_at >= $2
		            AND ($3 = '' OR guard_type = $3)
		          ORDER BY id LIMIT $4`
		if err := s.db.SelectContext(ctx, &batch, query,
			lastID, opts.Since, opts.GuardType, opts.BatchSize); err != nil {
			return total, fmt.Errorf("failed to read export batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if err := writer.Write(&batch[i]); err != nil {
				return total, fmt.Errorf("failed to write parquet record: %w", err)
			}
		}
		lastID = batch[len(batch)-1].ID
		total += int64(len(batch))
	}

	if err := writer.Close(); err != nil {
		return total, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	s.logger.Info("History export completed",
		zap.String("path", path),
		zap.Int64("records", total))
	return total, nil
}
