package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// StubDimensions is the size of the vectors returned by StubClient.
const StubDimensions = 64

// StubRule answers prompts containing Contains with Replies in order. The
// last reply repeats once the list is exhausted.
type StubRule struct {
	Contains string   `yaml:"contains"`
	Replies  []string `yaml:"replies"`
}

// StubScript is the YAML form of a StubClient.
//
//	rules:
//	  - contains: "most recent orders"
//	    replies:
//	      - '{"target": ["id"], "filters": []}'
//	default: '{"target": [], "filters": []}'
type StubScript struct {
	Rules   []StubRule `yaml:"rules"`
	Default string     `yaml:"default"`
}

// StubClient is a deterministic LLMClient for tests and offline runs. Its
// embeddings are hashed bags of words, so texts sharing words are similar.
type StubClient struct {
	mu      sync.Mutex
	script  StubScript
	cursors []int
	calls   int
}

// NewStubClient creates a stub from a script.
func NewStubClient(script StubScript) *StubClient {
	return &StubClient{script: script, cursors: make([]int, len(script.Rules))}
}

// LoadStubScript reads a YAML script file.
func LoadStubScript(path string) (*StubClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stub script: %w", err)
	}
	var script StubScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse stub script %s: %w", path, err)
	}
	return NewStubClient(script), nil
}

// GenerateResponse returns the next reply of the first matching rule.
func (s *StubClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	for i, rule := range s.script.Rules {
		if !strings.Contains(prompt, rule.Contains) || len(rule.Replies) == 0 {
			continue
		}
		n := min(s.cursors[i], len(rule.Replies)-1)
		s.cursors[i]++
		return &GenerateResponseResult{Content: rule.Replies[n]}, nil
	}
	if s.script.Default != "" {
		return &GenerateResponseResult{Content: s.script.Default}, nil
	}
	return nil, NewError(ErrorTypeUnknown, "stub script has no reply for this prompt", false, nil)
}

// Calls returns the number of GenerateResponse calls so far.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return HashEmbedding(input), nil
}

func (s *StubClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = HashEmbedding(in)
	}
	return out, nil
}

func (s *StubClient) GetModel() string {
	return "stub"
}

func (s *StubClient) GetEndpoint() string {
	return "stub://local"
}

// HashEmbedding maps the lower-cased words of text onto a unit vector of
// StubDimensions buckets.
func HashEmbedding(text string) []float32 {
	vec := make([]float32, StubDimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%StubDimensions]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
