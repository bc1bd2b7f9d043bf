package httpapi

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/spreadwatch/internal/storage"
)

// binEdge is one (lo, hi) bucket of |z| magnitude. hi is +Inf for the final,
// open-ended bucket (spec §4.6.1 "edges ... [(e0,e1),...,(eK-1, infinity)]").
type binEdge struct {
	lo, hi float64
}

// binStat is one bucket's emitted statistics (spec §4.6.1).
type binStat struct {
	Lo                     float64  `json:"lo"`
	Hi                     *float64 `json:"hi"`
	Samples                int      `json:"samples"`
	P25                    *float64 `json:"p25"`
	P50                    *float64 `json:"p50"`
	P75                    *float64 `json:"p75"`
	P90                    *float64 `json:"p90"`
	ProbExitBeforeFunding  *float64 `json:"prob_exit_before_funding"`
}

type binStatsResponse struct {
	Pair  string    `json:"pair"`
	Days  int       `json:"days"`
	ExitZ float64   `json:"exit_z"`
	Stats []binStat `json:"stats"`
}

// handleStatsBins implements spec §4.6.1: for each configured |z| bucket,
// find entry-to-exit crossings within the trailing `days` window and report
// duration percentiles plus the fraction of crossings that completed before
// the next funding payment.
func (s *Server) handleStatsBins(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "pair is required")
		return
	}
	days, err := strconv.Atoi(defaultQuery(r, "days", "7"))
	if err != nil || days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	exitZ, err := strconv.ParseFloat(defaultQuery(r, "exit_z", "0.5"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "exit_z must be a number")
		return
	}
	edges, err := parseEdges(defaultQuery(r, "edges", "0.5,1,1.5,2,2.5,3"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.store.Spreads(r.Context(), pair, 5000)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Store returns newest-first; bin walking needs ascending time order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	filtered := make([]storage.Sample, 0, len(rows))
	for _, row := range rows {
		if row.TsMs >= cutoff {
			filtered = append(filtered, row)
		}
	}

	bins := edgesToBins(edges)
	stats := make([]binStat, len(bins))
	for i, b := range bins {
		stats[i] = computeBin(filtered, b, exitZ)
	}

	writeJSON(w, http.StatusOK, binStatsResponse{Pair: pair, Days: days, ExitZ: exitZ, Stats: stats})
}

func defaultQuery(r *http.Request, key, fallback string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return fallback
}

func parseEdges(csv string) ([]float64, error) {
	parts := strings.Split(csv, ",")
	edges := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		edges = append(edges, v)
	}
	sort.Float64s(edges)
	return edges, nil
}

func edgesToBins(edges []float64) []binEdge {
	bins := make([]binEdge, 0, len(edges))
	for i, e := range edges {
		hi := math.Inf(1)
		if i+1 < len(edges) {
			hi = edges[i+1]
		}
		bins = append(bins, binEdge{lo: e, hi: hi})
	}
	return bins
}

// computeBin walks samples once, detecting every entry into [lo, hi) from
// below lo and its first subsequent exit at or below exitZ (spec §4.6.1).
func computeBin(samples []storage.Sample, bucket binEdge, exitZ float64) binStat {
	hiPtr := &bucket.hi
	if math.IsInf(bucket.hi, 1) {
		hiPtr = nil
	}
	stat := binStat{Lo: bucket.lo, Hi: hiPtr}
	if len(samples) < 2 {
		return stat
	}

	var durations []float64
	var beforeFunding []float64

	i := 1
	for i < len(samples) {
		aPrev := math.Abs(samples[i-1].Z)
		aCur := math.Abs(samples[i].Z)
		inBucket := aCur >= bucket.lo && aCur < bucket.hi
		if aPrev < bucket.lo && inBucket {
			entryIdx := i
			exitIdx := -1
			for j := entryIdx; j < len(samples); j++ {
				if math.Abs(samples[j].Z) <= exitZ {
					exitIdx = j
					break
				}
			}
			if exitIdx >= 0 {
				durationS := float64(samples[exitIdx].TsMs-samples[entryIdx].TsMs) / 1000.0
				durations = append(durations, durationS)
				if c := samples[entryIdx].FrCountdownMs; c != nil {
					if durationS*1000.0 <= *c {
						beforeFunding = append(beforeFunding, 1)
					} else {
						beforeFunding = append(beforeFunding, 0)
					}
				}
				i = exitIdx + 1
				continue
			}
		}
		i++
	}

	if len(durations) == 0 {
		return stat
	}
	stat.Samples = len(durations)
	sort.Float64s(durations)
	stat.P25 = floatPtrH(nearestRank(durations, 0.25))
	stat.P50 = floatPtrH(nearestRank(durations, 0.50))
	stat.P75 = floatPtrH(nearestRank(durations, 0.75))
	stat.P90 = floatPtrH(nearestRank(durations, 0.90))
	if len(beforeFunding) > 0 {
		var sum float64
		for _, v := range beforeFunding {
			sum += v
		}
		stat.ProbExitBeforeFunding = floatPtrH(sum / float64(len(beforeFunding)))
	}
	return stat
}

// nearestRank returns the p-th percentile of an ascending-sorted slice using
// the nearest-rank method (spec §4.6.1 "percentiles ... via nearest-rank").
func nearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func floatPtrH(f float64) *float64 { return &f }
