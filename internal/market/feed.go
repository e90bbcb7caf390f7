package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "trendlab/internal/errors"
)

// Feed supplies an ordered bar series restricted to a date range.
type Feed interface {
	Load(ctx context.Context) ([]Bar, error)
}

// DefaultTimeLayout matches the kline dumps the strategy was tuned on.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// CSVConfig represents CSV feed configuration
type CSVConfig struct {
	Path       string
	TimeLayout string
	Range      Range
}

// CSVFeed reads datetime,open,high,low,close,volume rows.
type CSVFeed struct {
	config CSVConfig
}

// NewCSVFeed creates a new CSV feed
func NewCSVFeed(config CSVConfig) *CSVFeed {
	if config.TimeLayout == "" {
		config.TimeLayout = DefaultTimeLayout
	}
	return &CSVFeed{config: config}
}

// Load reads the whole file.
func (f *CSVFeed) Load(ctx context.Context) ([]Bar, error) {
	file, err := os.Open(f.config.Path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMarketDataUnavailable, "open csv")
	}
	defer file.Close()

	return f.read(ctx, file)
}

func (f *CSVFeed) read(ctx context.Context, r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []Bar
	line := 0
	for {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeMarketDataInvalid, "read csv").
				WithContext("line", line)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		bar, err := f.parseRecord(record)
		if err != nil {
			// 首行允许是表头
			if line == 1 {
				continue
			}
			return nil, apperrors.Wrap(err, apperrors.ErrCodeMarketDataInvalid, "parse csv row").
				WithContext("line", line)
		}

		if !f.config.Range.Contains(bar.Time) {
			continue
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

func (f *CSVFeed) parseRecord(record []string) (Bar, error) {
	if len(record) < 5 {
		return Bar{}, fmt.Errorf("expected at least 5 columns, got %d", len(record))
	}

	ts, err := time.Parse(f.config.TimeLayout, strings.TrimSpace(record[0]))
	if err != nil {
		return Bar{}, fmt.Errorf("time %q: %w", record[0], err)
	}

	values := make([]float64, 5)
	for i := 1; i < len(record) && i <= 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("column %d: %w", i, err)
		}
		values[i-1] = v
	}

	return Bar{
		Time:   ts,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}
