package catalog

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// ───────────────────────────────────────────────────────────────────────────
// Count-Min Sketch
// ───────────────────────────────────────────────────────────────────────────

// CountMinSketch is a depth x width grid of float64 counters used to
// approximate per-key frequency (spec.md §4.5). depth independent hash
// probes are derived from a single xxhash.Sum64 by seeding with the probe
// index (the teacher's pack has no CMS of its own; this is grounded on
// kasuganosora-sqlexec's go.mod dependency on cespare/xxhash/v2, which that
// repo pulls in transitively for exactly this kind of fast non-cryptographic
// hashing).
type CountMinSketch struct {
	width, depth int
	counters     [][]float64
}

// NewCountMinSketch allocates a zeroed width x depth sketch.
func NewCountMinSketch(width, depth int) *CountMinSketch {
	counters := make([][]float64, depth)
	for i := range counters {
		counters[i] = make([]float64, width)
	}
	return &CountMinSketch{width: width, depth: depth, counters: counters}
}

// cell returns the counter index for probe row and key.
func (c *CountMinSketch) cell(row int, key []byte) int {
	h := xxhash.Sum64(key) ^ (uint64(row+1) * 0x9E3779B97F4A7C15)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return int(h % uint64(c.width))
}

// AddCount adds v to the depth cells key hashes into.
func (c *CountMinSketch) AddCount(key []byte, v float64) {
	for row := 0; row < c.depth; row++ {
		c.counters[row][c.cell(row, key)] += v
	}
}

// GetFreqCount returns the minimum over key's depth cells: an
// over-estimate of key's true frequency, never an under-estimate.
func (c *CountMinSketch) GetFreqCount(key []byte) float64 {
	min := math.Inf(1)
	for row := 0; row < c.depth; row++ {
		v := c.counters[row][c.cell(row, key)]
		if v < min {
			min = v
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// ───────────────────────────────────────────────────────────────────────────
// HyperLogLog
// ───────────────────────────────────────────────────────────────────────────

// hllAlpha is the bias-correction constant spec.md §4.5 pins for
// N = 1024 buckets.
const hllAlpha = 0.7213

// HyperLogLog estimates cardinality with a fixed bucket count (1024 per
// spec.md). The low bucketBits bits of the hash select a bucket; the
// estimator tracks, per bucket, the maximum leading-one position (+1) of
// the remaining bits, and maintains an incrementally updated
// S = sum(2^-M[j]) so GetEstimate is O(1) (spec.md §9 calls this out
// explicitly: "sum -= 2^-old; sum += 2^-new").
type HyperLogLog struct {
	buckets    []uint8
	bucketBits uint
	sum        float64 // Σ 2^-M[j], kept incrementally
}

// NewHyperLogLog allocates an HLL with the given bucket count, which must
// be a power of two (spec.md suggests 1024).
func NewHyperLogLog(numBuckets int) *HyperLogLog {
	buckets := make([]uint8, numBuckets)
	h := &HyperLogLog{
		buckets:    buckets,
		bucketBits: uint(bits.TrailingZeros(uint(numBuckets))),
	}
	h.sum = float64(numBuckets) // every M[j] starts at 0, 2^-0 == 1
	return h
}

// Add folds key into the estimator.
func (h *HyperLogLog) Add(key []byte) {
	hv := xxhash.Sum64(key)
	n := len(h.buckets)
	bucket := hv & uint64(n-1)
	rest := hv >> h.bucketBits
	rank := uint8(leadingOnePosition(rest)) + 1
	if rank > h.buckets[bucket] {
		h.sum -= math.Exp2(-float64(h.buckets[bucket]))
		h.sum += math.Exp2(-float64(rank))
		h.buckets[bucket] = rank
	}
}

// leadingOnePosition returns the 0-based position of the lowest set bit
// (the classic HLL "rank" source before the +1), treating an all-zero
// input as position 63 (the widest possible run).
func leadingOnePosition(v uint64) int {
	if v == 0 {
		return 63
	}
	return bits.TrailingZeros64(v)
}

// Estimate returns the cardinality estimate per spec.md §4.5:
// (1/S) * N^2 * alpha / (1 + 1.079/N). An estimator that has seen no
// keys (every M[j] still 0, so S == N) reports 0.
func (h *HyperLogLog) Estimate() float64 {
	n := float64(len(h.buckets))
	if h.sum <= 0 || h.sum >= n {
		return 0
	}
	return (1 / h.sum) * n * n * hllAlpha / (1 + 1.079/n)
}

// ───────────────────────────────────────────────────────────────────────────
// Per-column / per-table statistics
// ───────────────────────────────────────────────────────────────────────────

// ColumnStats holds the read-only statistics the optimizer's cardinality
// estimator consults for one column (spec.md §3: "built once by a
// sampling/load pass (external) and read-only at query time").
type ColumnStats struct {
	Min, Max     []byte // raw comparable key bytes; nil if no rows sampled
	DistinctRate float64 // in (0,1]
	CMS          *CountMinSketch
	HLL          *HyperLogLog
}

// TableStats holds the tuple count plus every column's ColumnStats.
type TableStats struct {
	TupleNum int64
	Columns  map[ColumnID]*ColumnStats
}

// NewTableStats allocates an empty TableStats sized per cfg, one
// ColumnStats per column in t.
func NewTableStats(t *Table, cfg Config) *TableStats {
	cols := make(map[ColumnID]*ColumnStats, len(t.Columns))
	for _, c := range t.Columns {
		cols[c.ID] = &ColumnStats{
			DistinctRate: 1,
			CMS:          NewCountMinSketch(cfg.CMSWidth, cfg.CMSDepth),
			HLL:          NewHyperLogLog(cfg.HLLBuckets),
		}
	}
	return &TableStats{Columns: cols}
}

// Observe folds one row's value for column id into that column's
// statistics: bumps the tuple-level CMS/HLL, and widens min/max. Callers
// (the external sampling/load pass spec.md §3 describes) call this once
// per sampled row per column; Observe itself does not touch TupleNum,
// which the loader sets directly once the full pass completes.
func (s *TableStats) Observe(id ColumnID, value []byte) {
	cs, ok := s.Columns[id]
	if !ok {
		return
	}
	cs.CMS.AddCount(value, 1)
	cs.HLL.Add(value)
	if cs.Min == nil || compareBytes(value, cs.Min) < 0 {
		cs.Min = append([]byte(nil), value...)
	}
	if cs.Max == nil || compareBytes(value, cs.Max) > 0 {
		cs.Max = append([]byte(nil), value...)
	}
}

// Finalize derives DistinctRate for every column from its HLL estimate and
// the final tuple count; call once after every row has been Observed.
func (s *TableStats) Finalize(tupleNum int64) {
	s.TupleNum = tupleNum
	for _, cs := range s.Columns {
		if tupleNum <= 0 {
			cs.DistinctRate = 1
			continue
		}
		rate := cs.HLL.Estimate() / float64(tupleNum)
		cs.DistinctRate = clamp(rate, 1/float64(tupleNum), 1)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
