package lookup

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// LoadConfig configures how address lists are read from external sources.
type LoadConfig struct {
	// Progress callback interval (0 = no progress logging).
	ProgressInterval time.Duration

	// Options passed through to Load.
	Options Options
}

// LoadFromFile reads addresses from a text file, one per line. Blockchair
// TSV dumps (address<TAB>balance with a header row) work too: only the
// first tab-separated field is taken and an "address" header row is
// skipped.
func LoadFromFile(path string, cfg LoadConfig) (*Set, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("getting file stats: %w", err)
	}

	return LoadFromReader(file, stat.Size(), cfg)
}

// LoadFromReader reads addresses from any io.Reader and builds a Set.
func LoadFromReader(r io.Reader, totalSize int64, cfg LoadConfig) (*Set, error) {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for long lines
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var addresses []string
	var bytesRead int64
	lastProgress := time.Now()
	startTime := time.Now()

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		bytesRead += int64(len(line)) + 1

		// Take the first field of TSV records; plain lists pass through.
		if idx := strings.IndexByte(line, '\t'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first {
			first = false
			if line == "address" {
				continue
			}
		}

		addresses = append(addresses, line)

		if cfg.ProgressInterval > 0 && time.Since(lastProgress) >= cfg.ProgressInterval {
			progress := float64(bytesRead) / float64(totalSize) * 100
			rate := float64(len(addresses)) / time.Since(startTime).Seconds()
			log.Printf("Reading addresses: %.1f%% (%d read, %.0f/sec)",
				progress, len(addresses), rate)
			lastProgress = time.Now()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning input: %w", err)
	}

	set, err := Load(addresses, cfg.Options)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(startTime)
	memMB := float64(set.MemoryUsage()) / (1024 * 1024)
	log.Printf("Loaded %d addresses in %v (%d skipped, %.1f MB memory)",
		set.Len(), elapsed.Round(time.Millisecond), set.Skipped(), memMB)

	return set, nil
}

// LoadFromDB reads every address from the btc_addresses table of a
// PostgreSQL database and builds a Set.
func LoadFromDB(connStr string, cfg LoadConfig) (*Set, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT address FROM btc_addresses")
	if err != nil {
		return nil, fmt.Errorf("querying addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	startTime := time.Now()
	lastProgress := startTime
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		addresses = append(addresses, addr)

		if cfg.ProgressInterval > 0 && time.Since(lastProgress) >= cfg.ProgressInterval {
			log.Printf("Reading addresses from database: %d read", len(addresses))
			lastProgress = time.Now()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	set, err := Load(addresses, cfg.Options)
	if err != nil {
		return nil, err
	}

	log.Printf("Loaded %d addresses from database in %v",
		set.Len(), time.Since(startTime).Round(time.Millisecond))

	return set, nil
}
