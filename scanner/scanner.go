package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGapLimit is the number of consecutive unused key indices
	// after which the search stops.
	DefaultGapLimit = 100

	// DefaultPageSize is the number of outputs requested per PMMR query.
	DefaultPageSize = 1000
)

// Config configures a Scanner.
type Config struct {
	// KeyRing derives the candidate blinding factors.
	KeyRing keychain.SecretKeyRing

	// Account is the account whose output keys are searched.
	Account uint32

	// GapLimit is the number of consecutive misses ending the search.
	GapLimit uint32

	// Workers bounds the parallel rewinds. Zero uses one per CPU.
	Workers int

	// PageSize is the number of outputs fetched per chain query.
	PageSize int
}

// DefaultConfig returns a config with the default limits.
func DefaultConfig(ring keychain.SecretKeyRing) Config {
	return Config{
		KeyRing:  ring,
		GapLimit: DefaultGapLimit,
		PageSize: DefaultPageSize,
	}
}

// Scanner recognizes wallet outputs among chain outputs by rewinding their
// proofs with the wallet's keys.
type Scanner struct {
	cfg Config
}

// New returns a scanner for the given config.
func New(cfg Config) (*Scanner, error) {
	if cfg.KeyRing == nil {
		return nil, errors.New("scanner needs a key ring")
	}
	if cfg.GapLimit == 0 {
		cfg.GapLimit = DefaultGapLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	return &Scanner{cfg: cfg}, nil
}

// Match is a chain output recognized as the wallet's.
type Match struct {
	// Output is the chain output.
	Output wallet.ChainOutput

	// KeyID locates the blinding factor of the output.
	KeyID keychain.KeyID

	// Value is the recovered amount.
	Value uint64
}

// Index returns the key index of the match.
func (m *Match) Index() uint32 {
	loc, _ := m.KeyID.Locator()
	return loc.Index
}

// candidate is a derived key index.
type candidate struct {
	id    keychain.KeyID
	blind pedersen.BlindingFactor
}

// derive returns the candidates of the indices in [lo, hi).
func (s *Scanner) derive(lo, hi uint32) ([]candidate, error) {
	candidates := make([]candidate, 0, hi-lo)
	for i := lo; i < hi; i++ {
		loc := keychain.KeyLocator{
			Account: s.cfg.Account,
			Family:  keychain.KeyFamilyOutput,
			Index:   i,
		}
		priv, err := s.cfg.KeyRing.DerivePrivKey(loc)
		if err != nil {
			return nil, fmt.Errorf("unable to derive %v: %w", loc,
				err)
		}
		candidates = append(candidates, candidate{
			id:    loc.ID(),
			blind: pedersen.BlindingFactorFromPrivKey(priv),
		})
	}

	return candidates, nil
}

// Identify returns the outputs that belong to the wallet.
func (s *Scanner) Identify(ctx context.Context,
	outputs []wallet.ChainOutput) ([]Match, error) {

	matches, _, err := s.identify(ctx, outputs, s.cfg.GapLimit)
	return matches, err
}

// identify searches key indices up to an adaptive horizon, starting at
// horizon. Every match at index i pushes the horizon to i+1+GapLimit, so
// the search ends after GapLimit consecutive indices without a match. It
// returns the matches and the final horizon.
func (s *Scanner) identify(ctx context.Context, outputs []wallet.ChainOutput,
	horizon uint32) ([]Match, uint32, error) {

	var (
		found   = make([]*Match, len(outputs))
		pending = len(outputs)
		lo      uint32
	)
	for lo < horizon && pending > 0 {
		candidates, err := s.derive(lo, horizon)
		if err != nil {
			return nil, 0, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for i := range outputs {
			if found[i] != nil {
				continue
			}

			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				found[i] = rewind(&outputs[i], candidates)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}

		lo = horizon
		pending = 0
		for _, m := range found {
			if m == nil {
				pending++
				continue
			}
			next := horizonAfter(m.Index(), s.cfg.GapLimit)
			if next > horizon {
				horizon = next
			}
		}

		log.Tracef("Searched key indices up to %d, %d outputs left",
			lo, pending)
	}

	var matches []Match
	for _, m := range found {
		if m != nil {
			matches = append(matches, *m)
		}
	}

	return matches, horizon, nil
}

// horizonAfter returns the search horizon following a used key index,
// saturating at the last index.
func horizonAfter(index, gapLimit uint32) uint32 {
	if index >= math.MaxUint32-gapLimit {
		return math.MaxUint32
	}

	return index + 1 + gapLimit
}

// rewind tries every candidate on the output. The recovered key id must be
// the candidate's own.
func rewind(out *wallet.ChainOutput, candidates []candidate) *Match {
	for _, c := range candidates {
		rewound, err := out.Proof.Rewind(out.Commit, c.blind)
		if err != nil {
			continue
		}
		if rewound.KeyID != c.id {
			continue
		}

		return &Match{
			Output: *out,
			KeyID:  c.id,
			Value:  rewound.Value,
		}
	}

	return nil
}
