package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/pixfil/masterclass-orders/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 12
)

// campaign describes the promo rule attached to every imported code.
// Campaign codes are single-use: usage_limit and usage_limit_per_user
// are both 1.
type campaign struct {
	name         string
	discountType string
	value        decimal.Decimal
	validUntil   time.Time
}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir      string
		databaseURL  string
		campaignName string
		discountType string
		valueStr     string
		validDays    int
		minFiles     int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing campaign codes_*.gz exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&campaignName, "campaign", "campaign", "campaign name recorded in the code description")
	flag.StringVar(&discountType, "discount-type", "percentage", "percentage, fixed_amount or free_shipping")
	flag.StringVar(&valueStr, "value", "10", "discount value (percent or euro amount)")
	flag.IntVar(&validDays, "valid-days", 90, "validity window in days from now")
	flag.IntVar(&minFiles, "min-files", 2, "a code must appear in at least this many export files")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		slog.Error("invalid discount value", slog.String("value", valueStr))
		os.Exit(1)
	}

	camp := campaign{
		name:         campaignName,
		discountType: discountType,
		value:        value,
		validUntil:   time.Now().AddDate(0, 0, validDays),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, camp, minFiles); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, camp campaign, minFiles int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "codes_*.gz"))
	if err != nil {
		return errors.Wrap(err, "glob export files")
	}
	if len(files) < minFiles {
		return errors.Errorf("need at least %d export files in %s, found %d", minFiles, dataDir, len(files))
	}

	// Pass 1: Build bloom filters concurrently, one per export file.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Find codes confirmed by enough independent exports.
	slog.Info("pass 2: finding confirmed codes")

	validCodes, err := findValidCodes(ctx, files, filters, minFiles)
	if err != nil {
		return errors.Wrap(err, "find confirmed codes")
	}

	slog.Info("confirmed codes found", slog.Int("count", len(validCodes)))

	if len(validCodes) == 0 {
		slog.Info("no confirmed codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCodes(ctx, pool, camp, validCodes); err != nil {
		return errors.Wrap(err, "write promo codes to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) >= minCodeLen && len(code) <= maxCodeLen {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress",
						slog.Int("file", idx+1),
						slog.Uint64("codes", count),
					)
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findValidCodes re-streams each file and checks codes against OTHER files'
// bloom filters. A code is confirmed if it appears in minFiles or more
// independent exports.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, minFiles int) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all files.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minFiles {
			valid = append(valid, code)
		}
	}

	return valid, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("file", idx+1),
					slog.Uint64("codes", count),
				)
			}

			// Check if this code appears in any OTHER file's bloom filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(code) {
					candidates[code] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(strings.ToUpper(strings.TrimSpace(scanner.Text())))
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

const upsertCodeSQL = `
INSERT INTO promo_codes (
	id, code, description, discount_type, discount_value,
	usage_limit, usage_limit_per_user, valid_until,
	first_order_only, auto_apply, stackable, status
) VALUES ($1, $2, $3, $4, $5, 1, 1, $6, false, false, false, 'active')
ON CONFLICT ((UPPER(code))) DO UPDATE SET
	description    = EXCLUDED.description,
	discount_type  = EXCLUDED.discount_type,
	discount_value = EXCLUDED.discount_value,
	valid_until    = EXCLUDED.valid_until,
	status         = 'active'`

// writeCodes upserts all confirmed single-use campaign codes.
func writeCodes(ctx context.Context, pool *pgxpool.Pool, camp campaign, codes []string) error {
	slog.Info("writing promo codes to database", slog.Int("count", len(codes)))

	description := fmt.Sprintf("Campaign %s: single-use code", camp.name)

	for i, code := range codes {
		_, err := pool.Exec(ctx, upsertCodeSQL,
			uuid.NewString(), code, description,
			camp.discountType, camp.value, camp.validUntil,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert code %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	return nil
}
