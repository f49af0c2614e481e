// Package engine drives the search loop: generate a key pair, report the
// derived addresses, test them against the known-address set, stop on the
// first hit. Derivation is embarrassingly parallel, so the engine runs a
// pool of workers that share nothing but the read-only set and an atomic
// stop signal.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"btc_collider/internal/keygen"
	"btc_collider/internal/lookup"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ErrExhausted reports that the configured attempt cap was reached without
// a match.
var ErrExhausted = errors.New("attempt limit reached without a match")

// State is the engine's coarse lifecycle phase. The per-iteration
// generating and checking phases alternate inside every worker and are
// reported together as StateRunning; only the terminal outcomes are
// distinguished.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateMatched
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateMatched:
		return "matched"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MatchResult is the terminal artifact of a successful run: the address
// found in the known set and the private key that produced it.
type MatchResult struct {
	Address    string
	Type       keygen.AddressType
	WIF        string
	PrivateKey *btcec.PrivateKey
	Mnemonic   string
}

// Reporter receives every derived address for progress display and, on
// success, exactly one MatchResult. The engine serializes all calls
// through a single consumer goroutine, so implementations need no
// locking of their own.
type Reporter interface {
	Address(addr string)
	Match(res MatchResult)
}

// Stats is a snapshot of the engine's counters.
type Stats struct {
	KeysGenerated    int64
	AddressesChecked int64
}

// Config controls the worker pool.
type Config struct {
	// Workers is the number of concurrent generate/check goroutines.
	Workers int

	// MaxAttempts caps the number of generated keys across all workers;
	// 0 means run until matched or cancelled. The cap is explicit
	// opt-in, never implicit.
	MaxAttempts int64

	// ReportBuffer sizes the bounded queue between workers and the
	// reporting consumer (default 1024).
	ReportBuffer int

	// Verbose enables per-error logging inside workers.
	Verbose bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      8,
		ReportBuffer: 1024,
	}
}

// Engine owns the known-address set and runs the search loop.
type Engine struct {
	set    *lookup.Set
	source keygen.Source
	cfg    Config

	state            atomic.Int32
	keysGenerated    atomic.Int64
	addressesChecked atomic.Int64
}

// New builds an engine over an already loaded set and a key source.
func New(set *lookup.Set, source keygen.Source, cfg Config) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ReportBuffer < 1 {
		cfg.ReportBuffer = 1024
	}
	return &Engine{set: set, source: source, cfg: cfg}
}

// State returns the engine's current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Stats returns the current counters. Safe to call while running.
func (e *Engine) Stats() Stats {
	return Stats{
		KeysGenerated:    e.keysGenerated.Load(),
		AddressesChecked: e.addressesChecked.Load(),
	}
}

// Run executes the search loop until a match is found, ctx is cancelled,
// an entropy or derivation failure occurs, or the attempt cap is reached.
// On a match the result is both returned and delivered to the reporter,
// exactly once. Entropy failures abort the run; they are never retried.
func (e *Engine) Run(ctx context.Context, reporter Reporter) (*MatchResult, error) {
	e.state.Store(int32(StateRunning))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reports := make(chan string, e.cfg.ReportBuffer)
	result := make(chan MatchResult, 1)
	fatal := make(chan error, 1)

	// Single consumer keeps the sink free of interleaved writes even
	// with many workers.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for addr := range reports {
			reporter.Address(addr)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.workerLoop(ctx, cancel, reports, result, fatal)
		}()
	}

	wg.Wait()
	close(reports)
	<-consumerDone

	select {
	case res := <-result:
		e.state.Store(int32(StateMatched))
		reporter.Match(res)
		return &res, nil
	default:
	}

	e.state.Store(int32(StateAborted))
	select {
	case err := <-fatal:
		return nil, err
	default:
	}
	// The cap and external cancellation both arrive as context.Canceled;
	// a full counter with a configured cap means the cap fired.
	if e.cfg.MaxAttempts > 0 && e.keysGenerated.Load() >= e.cfg.MaxAttempts {
		return nil, ErrExhausted
	}
	return nil, ctx.Err()
}

// workerLoop is one generate/check cycle runner. It shares the set
// read-only and signals through cancel; no other coordination exists.
func (e *Engine) workerLoop(ctx context.Context, cancel context.CancelFunc, reports chan<- string, result chan<- MatchResult, fatal chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := e.keysGenerated.Add(1)
		if e.cfg.MaxAttempts > 0 && n > e.cfg.MaxAttempts {
			e.keysGenerated.Add(-1)
			cancel()
			return
		}

		kp, err := e.source.Generate()
		if err != nil {
			if e.cfg.Verbose {
				log.Printf("Worker aborting: %v", err)
			}
			select {
			case fatal <- fmt.Errorf("generating key pair: %w", err):
			default:
			}
			cancel()
			return
		}

		for _, derived := range kp.Addresses {
			select {
			case reports <- derived.Address:
			case <-ctx.Done():
				return
			}

			e.addressesChecked.Add(1)
			if !e.set.Contains(derived.Address) {
				continue
			}

			res := MatchResult{
				Address:    derived.Address,
				Type:       derived.Type,
				WIF:        kp.WIF,
				PrivateKey: kp.PrivateKey,
				Mnemonic:   kp.Mnemonic,
			}
			select {
			case result <- res:
			default:
				// Another worker already won; first match is the only
				// one reported.
			}
			cancel()
			return
		}
	}
}
