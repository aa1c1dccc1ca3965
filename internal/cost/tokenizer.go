package cost

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer counts tokens for one model family
type Tokenizer interface {
	Name() string
	Count(text string) int
	Exact() bool
}

// charsPerToken is the documented fallback ratio
const charsPerToken = 4

// ApproxTokenizer estimates tokens as characters/4. Used whenever no exact
// encoding is known or loadable for a model.
type ApproxTokenizer struct{}

func (ApproxTokenizer) Name() string { return "approx-chars/4" }

func (ApproxTokenizer) Count(text string) int {
	return utf8.RuneCountInString(text) / charsPerToken
}

func (ApproxTokenizer) Exact() bool { return false }

type bpeTokenizer struct {
	name string
	enc  *tiktoken.Tiktoken
}

func (t *bpeTokenizer) Name() string { return t.name }

func (t *bpeTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *bpeTokenizer) Exact() bool { return true }

// offline keeps tiktoken from fetching BPE ranks over the network; estimates
// must stay pure local computations.
var offline sync.Once

// encodings caches loaded BPE tables by encoding name
type encodings struct {
	mu    sync.Mutex
	cache map[string]Tokenizer
}

func newEncodings() *encodings {
	return &encodings{cache: make(map[string]Tokenizer)}
}

// get returns the tokenizer for an encoding, or the approximation when the
// encoding is empty or cannot be loaded.
func (e *encodings) get(encoding string) Tokenizer {
	if encoding == "" {
		return ApproxTokenizer{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.cache[encoding]; ok {
		return t
	}

	t, err := loadEncoding(encoding)
	if err != nil {
		t = ApproxTokenizer{}
	}
	e.cache[encoding] = t
	return t
}

func loadEncoding(encoding string) (Tokenizer, error) {
	offline.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &bpeTokenizer{name: encoding, enc: enc}, nil
}
