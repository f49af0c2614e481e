package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"btc_collider/internal/engine"
	"btc_collider/internal/keygen"
	"btc_collider/internal/lookup"
)

var (
	// Data source
	addressFile = flag.String("addresses", "", "Path to address list (one per line, or Blockchair TSV)")
	dbConn      = flag.String("db", "", "PostgreSQL connection string (alternative to -addresses)")
	lenient     = flag.Bool("lenient", false, "Skip malformed address entries instead of aborting")

	// Worker configuration
	workers     = flag.Int("w", 32, "Number of concurrent workers")
	maxAttempts = flag.Int64("max", 0, "Stop after this many generated keys (0 = run until matched)")

	// Key source configuration
	useMnemonic    = flag.Bool("mnemonic", false, "Derive keys from BIP39 mnemonics instead of raw entropy")
	addressIndexes = flag.Int("i", 20, "Address indexes to check per mnemonic (mnemonic mode)")
	entropyBits    = flag.Int("e", 128, "Mnemonic entropy bits: 128 (12 words) or 256 (24 words)")

	// Output configuration
	counterInterval = flag.Int("c", 0, "Interval in seconds for reporting progress (0 = disabled)")
	verbose         = flag.Bool("v", false, "Enable verbose output")

	// Notifications
	pushoverToken = flag.String("pt", "", "Pushover application token")
	pushoverUser  = flag.String("pu", "", "Pushover user key")
)

func main() {
	flag.Parse()

	if *addressFile == "" && *dbConn == "" {
		log.Fatal("Must specify -addresses <path> or -db <connection-string>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loadCfg := lookup.LoadConfig{
		ProgressInterval: 5 * time.Second,
		Options:          lookup.Options{Lenient: *lenient},
	}

	var set *lookup.Set
	var err error
	if *addressFile != "" {
		log.Printf("Loading addresses from %s...", *addressFile)
		set, err = lookup.LoadFromFile(*addressFile, loadCfg)
	} else {
		log.Printf("Loading addresses from database...")
		set, err = lookup.LoadFromDB(*dbConn, loadCfg)
	}
	if err != nil {
		log.Fatalf("Failed to load addresses: %v", err)
	}

	var source keygen.Source
	if *useMnemonic {
		source, err = keygen.NewMnemonicSource(keygen.MnemonicConfig{
			EntropyBits:    *entropyBits,
			AddressIndexes: *addressIndexes,
		})
		if err != nil {
			log.Fatalf("Invalid mnemonic configuration: %v", err)
		}
		mnemonicWords := *entropyBits / 32 * 3
		log.Printf("Workers: %d, source: %d-word mnemonics, %d indexes each",
			*workers, mnemonicWords, *addressIndexes)
	} else {
		source = keygen.NewDeriver()
		log.Printf("Workers: %d, source: raw random keys", *workers)
	}

	eng := engine.New(set, source, engine.Config{
		Workers:     *workers,
		MaxAttempts: *maxAttempts,
		Verbose:     *verbose,
	})

	if *counterInterval > 0 {
		go reportProgress(ctx, eng, time.Duration(*counterInterval)*time.Second)
	}

	res, err := eng.Run(ctx, &consoleReporter{verbose: *verbose})
	stats := eng.Stats()
	switch {
	case res != nil:
		log.Printf("Match found after %d keys (%d addresses checked)",
			stats.KeysGenerated, stats.AddressesChecked)
	case errors.Is(err, context.Canceled):
		log.Printf("Interrupted after %d keys (%d addresses checked)",
			stats.KeysGenerated, stats.AddressesChecked)
	case errors.Is(err, engine.ErrExhausted):
		log.Printf("No match in %d keys (%d addresses checked)",
			stats.KeysGenerated, stats.AddressesChecked)
	case err != nil:
		log.Fatalf("Run aborted: %v", err)
	}
}

func reportProgress(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastChecked int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := eng.Stats()
			rate := (stats.AddressesChecked - lastChecked) / int64(interval.Seconds())
			lastChecked = stats.AddressesChecked

			msg := fmt.Sprintf("Checked %d addresses (%d/sec), %d keys",
				stats.AddressesChecked, rate, stats.KeysGenerated)
			log.Println(msg)

			if *pushoverToken != "" && *pushoverUser != "" {
				go sendPushoverNotification(*pushoverToken, *pushoverUser, "BTC Collider Progress", msg)
			}
		}
	}
}

// consoleReporter prints matches to the console, appends them to
// matches.log, and optionally pushes a notification. The engine serializes
// calls, so no locking is needed beyond the file mutex shared with any
// out-of-band writers.
type consoleReporter struct {
	verbose bool
	fileMu  sync.Mutex
}

func (r *consoleReporter) Address(addr string) {
	if r.verbose {
		log.Printf("Generated %s", addr)
	}
}

func (r *consoleReporter) Match(res engine.MatchResult) {
	msg := fmt.Sprintf("MATCH FOUND! Address: %s Type: %s WIF: %s", res.Address, res.Type, res.WIF)
	if res.Mnemonic != "" {
		msg += " Mnemonic: " + res.Mnemonic
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println(msg)
	fmt.Println(strings.Repeat("=", 60))

	r.fileMu.Lock()
	file, err := os.OpenFile("matches.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		r.fileMu.Unlock()
		log.Printf("Error opening matches.log: %v", err)
		return
	}
	timestamp := time.Now().Format(time.RFC3339)
	logLine := fmt.Sprintf("[%s] Address: %s | Type: %s | WIF: %s | Mnemonic: %s\n",
		timestamp, res.Address, res.Type, res.WIF, res.Mnemonic)
	if _, err := file.WriteString(logLine); err != nil {
		log.Printf("Error writing to matches.log: %v", err)
	}
	file.Close()
	r.fileMu.Unlock()

	if *pushoverToken != "" && *pushoverUser != "" {
		sendPushoverNotification(*pushoverToken, *pushoverUser, "BTC COLLIDER MATCH!", msg)
	}
}

func sendPushoverNotification(token, user, title, message string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("user", user)
	form.Set("title", title)
	form.Set("message", message)

	req, err := http.NewRequest("POST", "https://api.pushover.net/1/messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-OK response from Pushover: %s", resp.Status)
	}

	return nil
}
