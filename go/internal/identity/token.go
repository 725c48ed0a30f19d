package identity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Alphabet excludes I, O, 0 and 1 so tokens survive being read aloud.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// TokenLength is the number of characters in a join token.
const TokenLength = 4

// ErrInvalidCount is returned when a batch size is out of range.
var ErrInvalidCount = errors.New("token count out of range")

// Issuer generates batches of join tokens.
type Issuer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewIssuer creates an issuer backed by a randomly seeded source.
func NewIssuer() *Issuer {
	return &Issuer{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededIssuer creates a deterministic issuer for tests.
func NewSeededIssuer(seed uint64) *Issuer {
	return &Issuer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Issue returns n distinct tokens. Collisions inside the batch are
// regenerated, never returned.
func (i *Issuer) Issue(n int) ([]string, error) {
	if n <= 0 || n > capacity() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	seen := make(map[string]struct{}, n)
	tokens := make([]string, 0, n)
	buf := make([]byte, TokenLength)
	for len(tokens) < n {
		for j := range buf {
			buf[j] = Alphabet[i.rng.IntN(len(Alphabet))]
		}
		token := string(buf)
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func capacity() int {
	c := 1
	for k := 0; k < TokenLength; k++ {
		c *= len(Alphabet)
	}
	return c
}

// NormalizeToken trims and upper-cases user input.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// ValidFormat reports whether token could have been issued.
func ValidFormat(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for k := 0; k < len(token); k++ {
		if strings.IndexByte(Alphabet, token[k]) < 0 {
			return false
		}
	}
	return true
}

// NewSessionSecret returns an unguessable rejoin secret.
func NewSessionSecret() string {
	return uuid.NewString()
}

// NewConnectionID returns an id for a connection that did not bring one.
func NewConnectionID() string {
	return uuid.NewString()
}
