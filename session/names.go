package session

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"realmarena/world"
)

// Generator 名字与出生点，测试里可替换成固定值
type Generator interface {
	Name() string
	Spawn() world.Point
}

var (
	adjectives = []string{"red", "blue", "swift", "brave", "cool", "fire", "ice", "storm", "shadow", "mystic"}
	nouns      = []string{"trainer", "walker", "explorer", "mage", "knight", "ranger", "hero", "warrior", "scout", "hunter"}
)

// RandomGenerator {形容词}{名词}{1..9999}，出生点在 Zone 内均匀取整数坐标
type RandomGenerator struct {
	Zone world.Rect

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGenerator seed 为 0 时使用随机种子
func NewRandomGenerator(zone world.Rect, seed uint64) *RandomGenerator {
	var src rand.Source
	if seed == 0 {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	} else {
		src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	}
	return &RandomGenerator{Zone: zone, rng: rand.New(src)}
}

func (g *RandomGenerator) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("%s%s%d",
		adjectives[g.rng.IntN(len(adjectives))],
		nouns[g.rng.IntN(len(nouns))],
		g.rng.IntN(9999)+1)
}

func (g *RandomGenerator) Spawn() world.Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return world.Point{
		X: g.Zone.Min.X + g.span(g.Zone.Size.W),
		Y: g.Zone.Min.Y + g.span(g.Zone.Size.H),
	}
}

func (g *RandomGenerator) span(n float64) float64 {
	w := int(math.Floor(n))
	if w <= 0 {
		return 0
	}
	return float64(g.rng.IntN(w))
}
