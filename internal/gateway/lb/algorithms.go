package lb

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Algorithm picks one server from a healthy candidate list. key carries
// whatever the algorithm needs to make a deterministic choice (client IP for
// IPHash, a cache/route key for ConsistentHash); algorithms that don't need
// it ignore it.
type Algorithm interface {
	Select(servers []*Server, key string) (*Server, bool)
}

func healthyOnly(servers []*Server) []*Server {
	out := make([]*Server, 0, len(servers))
	for _, s := range servers {
		if s.Healthy() {
			out = append(out, s)
		}
	}
	return out
}

// RoundRobin cycles through healthy servers in order.
type RoundRobin struct {
	counter uint64
}

func (r *RoundRobin) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}
	i := atomic.AddUint64(&r.counter, 1)
	return candidates[int(i-1)%len(candidates)], true
}

// WeightedRoundRobin implements smooth weighted round robin (the nginx
// algorithm): each pick increases every server's current weight by its
// configured weight, then selects and decrements the max by the total
// weight, so higher-weight servers are spread evenly rather than bursted.
type WeightedRoundRobin struct {
	mu sync.Mutex
}

func (r *WeightedRoundRobin) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	var best *Server
	for _, s := range candidates {
		s.mu.Lock()
		s.currentWeight += s.Weight
		if best == nil || s.currentWeight > best.currentWeight {
			best = s
		}
		total += s.Weight
		s.mu.Unlock()
	}
	best.mu.Lock()
	best.currentWeight -= total
	best.mu.Unlock()

	return best, true
}

// LeastConnections picks the healthy server with the fewest active
// connections.
type LeastConnections struct{}

func (LeastConnections) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	for _, s := range candidates[1:] {
		if s.ActiveConns() < best.ActiveConns() {
			best = s
		}
	}
	return best, true
}

// WeightedLeastConnections divides active connections by weight so a server
// with weight 2 is treated as having "room" for twice the connections.
type WeightedLeastConnections struct{}

func (WeightedLeastConnections) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	bestRatio := float64(best.ActiveConns()) / float64(best.Weight)
	for _, s := range candidates[1:] {
		ratio := float64(s.ActiveConns()) / float64(s.Weight)
		if ratio < bestRatio {
			best, bestRatio = s, ratio
		}
	}
	return best, true
}

// Random picks uniformly among healthy servers using crypto/rand, matching
// the weighted router's non-deterministic split selection.
type Random struct{}

func (Random) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return candidates[0], true
	}
	return candidates[n.Int64()], true
}

// WeightedRandom picks among healthy servers with probability proportional
// to weight.
type WeightedRandom struct{}

func (WeightedRandom) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}
	total := 0
	for _, s := range candidates {
		total += s.Weight
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(total)))
	if err != nil {
		return candidates[0], true
	}
	target := n.Int64()
	for _, s := range candidates {
		target -= int64(s.Weight)
		if target < 0 {
			return s, true
		}
	}
	return candidates[len(candidates)-1], true
}

// IPHash routes a given client IP to the same server as long as the pool's
// healthy membership doesn't change, without maintaining any ring state.
type IPHash struct{}

func (IPHash) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}
	sum := sha256.Sum256([]byte(key))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(candidates))
	return candidates[idx], true
}

// LeastResponseTime picks the healthy server with the lowest observed
// average response time, falling back to least-connections for servers with
// no samples yet.
type LeastResponseTime struct{}

func (LeastResponseTime) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	for _, s := range candidates[1:] {
		if s.AverageResponseTime() < best.AverageResponseTime() {
			best = s
		} else if s.AverageResponseTime() == best.AverageResponseTime() && s.ActiveConns() < best.ActiveConns() {
			best = s
		}
	}
	return best, true
}

// ConsistentHash maps keys onto a hash ring of virtual nodes so that adding
// or removing a server only reshuffles a small fraction of keys. VNodes
// controls virtual nodes per unit of weight; 0 defaults to 100.
type ConsistentHash struct {
	VNodes int
}

type ringEntry struct {
	hash   uint64
	server *Server
}

func (c ConsistentHash) Select(servers []*Server, key string) (*Server, bool) {
	candidates := healthyOnly(servers)
	if len(candidates) == 0 {
		return nil, false
	}

	vnodes := c.VNodes
	if vnodes <= 0 {
		vnodes = 100
	}

	ring := make([]ringEntry, 0, len(candidates)*vnodes)
	for _, s := range candidates {
		count := vnodes * s.Weight
		for i := 0; i < count; i++ {
			sum := sha256.Sum256([]byte(s.ID + "#" + itoa(i)))
			ring = append(ring, ringEntry{hash: binary.BigEndian.Uint64(sum[:8]), server: s})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	sum := sha256.Sum256([]byte(key))
	target := binary.BigEndian.Uint64(sum[:8])

	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= target })
	if idx == len(ring) {
		idx = 0
	}
	return ring[idx].server, true
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// AlgorithmByName resolves a route table's load_balancing_algorithm string
// to a concrete Algorithm, defaulting to round robin for an empty or
// unrecognized name.
func AlgorithmByName(name string) Algorithm {
	switch name {
	case "WEIGHTED_ROUND_ROBIN":
		return &WeightedRoundRobin{}
	case "LEAST_CONNECTIONS":
		return LeastConnections{}
	case "WEIGHTED_LEAST_CONNECTIONS":
		return WeightedLeastConnections{}
	case "RANDOM":
		return Random{}
	case "WEIGHTED_RANDOM":
		return WeightedRandom{}
	case "IP_HASH":
		return IPHash{}
	case "LEAST_RESPONSE_TIME":
		return LeastResponseTime{}
	case "CONSISTENT_HASH":
		return ConsistentHash{}
	default:
		return &RoundRobin{}
	}
}

// ClientIPFromRequest extracts the key IPHash and sticky sessions use,
// preferring X-Forwarded-For's first hop then RemoteAddr.
func ClientIPFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	return r.RemoteAddr
}
