package problems

import (
	"math/rand"
	"sync"
)

type Problem struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Difficulty  string `json:"difficulty"`
	Description string `json:"description,omitempty"`
}

// Repo hands out the problem for a freshly paired battle.
type Repo interface {
	Random() Problem
}

// StaticRepo picks uniformly from an in-memory pool. Problem content and
// search live in another service; this only needs enough to assign one.
type StaticRepo struct {
	mu   sync.Mutex
	pool []Problem
	rng  *rand.Rand
}

func NewStaticRepo(pool []Problem, seed int64) *StaticRepo {
	if len(pool) == 0 {
		pool = DefaultPool()
	}
	return &StaticRepo{pool: pool, rng: rand.New(rand.NewSource(seed))}
}

func (r *StaticRepo) Random() Problem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool[r.rng.Intn(len(r.pool))]
}

func DefaultPool() []Problem {
	return []Problem{
		{Slug: "two-sum", Title: "Two Sum", Difficulty: "easy"},
		{Slug: "valid-parentheses", Title: "Valid Parentheses", Difficulty: "easy"},
		{Slug: "lru-cache", Title: "LRU Cache", Difficulty: "medium"},
		{Slug: "course-schedule", Title: "Course Schedule", Difficulty: "medium"},
		{Slug: "word-ladder", Title: "Word Ladder", Difficulty: "hard"},
	}
}
