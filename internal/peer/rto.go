package peer

import "math"

// clockGranularityMS is RFC 6298's G, the assumed clock granularity used
// in the rto floor term.
const clockGranularityMS = 1000

// rtoEstimator implements the RFC 6298 SRTT/RTTVAR/RTO recurrence spec.md
// §4.4 calls for, including its back-off rule.
type rtoEstimator struct {
	srtt   float64 // milliseconds; -1 means unmeasured
	rttvar float64
	rto    int64 // milliseconds
	minRTO int64
	maxRTO int64
}

func newRTOEstimator(minRTO, maxRTO int64) *rtoEstimator {
	e := &rtoEstimator{srtt: -1, minRTO: minRTO, maxRTO: maxRTO}
	// No sample has been taken yet; start pessimistic so the first
	// unacknowledged send doesn't retransmit before a real RTT is known.
	e.rto = maxRTO
	return e
}

// sample folds a new RTT measurement R (milliseconds) into the estimator.
func (e *rtoEstimator) sample(r int64) {
	R := float64(r)
	if e.srtt < 0 {
		e.srtt = R
		e.rttvar = R / 2
	} else {
		e.rttvar = (3*e.rttvar + math.Abs(e.srtt-R)) / 4
		e.srtt = (7*e.srtt + R) / 8
	}
	e.rto = int64(e.srtt + math.Max(float64(clockGranularityMS), 4*e.rttvar))
	e.clamp()
}

func (e *rtoEstimator) clamp() {
	if e.rto < e.minRTO {
		e.rto = e.minRTO
	}
	if e.rto > e.maxRTO {
		e.rto = e.maxRTO
	}
}

// backoff applies the retransmission rule rto = min(max(rto*2, max_rto),
// max_rto). Given rto is always within [min_rto, max_rto] after clamp(),
// that expression is always exactly max_rto — a known source quirk, not a
// true exponential back-off. Preserved verbatim; see DESIGN.md.
func (e *rtoEstimator) backoff() {
	e.rto = e.maxRTO
}
