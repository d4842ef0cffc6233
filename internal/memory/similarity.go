package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// extractCondition builds a pattern condition from the contexts of a
// batch of episodes: only keys present in every context survive.
// Numeric values that agree within the merge tolerance of their mean
// collapse to that mean; disagreeing numerics widen into a {min,max}
// range. Non-numeric values survive only when identical everywhere.
func extractCondition(episodes []*EpisodicMemory) Mapping {
	if len(episodes) == 0 {
		return Mapping{}
	}

	condition := Mapping{}
	for key, firstVal := range episodes[0].Prediction.Context {
		values := []Value{firstVal}
		shared := true
		for _, ep := range episodes[1:] {
			v, ok := ep.Prediction.Context[key]
			if !ok {
				shared = false
				break
			}
			values = append(values, v)
		}
		if !shared {
			continue
		}
		if merged, ok := mergeConditionValues(values); ok {
			condition[key] = merged
		}
	}
	return condition
}

// mergeConditionValues collapses the per-episode values for one key
// into a single condition value, or reports that the key carries no
// usable signal.
func mergeConditionValues(values []Value) (Value, bool) {
	allNumeric := true
	for _, v := range values {
		if !v.IsNumeric() {
			allNumeric = false
			break
		}
	}

	if allNumeric {
		min, max, sum := values[0].Midpoint(), values[0].Midpoint(), 0.0
		for _, v := range values {
			n := v.Midpoint()
			if n < min {
				min = n
			}
			if n > max {
				max = n
			}
			sum += n
		}
		mean := sum / float64(len(values))
		for _, v := range values {
			if !withinTolerance(mean, v.Midpoint(), conditionMergeTolerance) {
				return Range(min, max), true
			}
		}
		return Number(mean), true
	}

	for _, v := range values[1:] {
		if !v.Equal(values[0]) {
			return Value{}, false
		}
	}
	return values[0], true
}

// extractRecommendation derives the recommended parameters from the
// successful episodes (falling back to all when none succeeded):
// numeric keys take the mean, everything else takes the mode.
func extractRecommendation(episodes []*EpisodicMemory) Mapping {
	source := make([]*EpisodicMemory, 0, len(episodes))
	for _, ep := range episodes {
		if ep.Outcome.GoalCompleted {
			source = append(source, ep)
		}
	}
	if len(source) == 0 {
		source = episodes
	}

	keys := map[string]bool{}
	for _, ep := range source {
		for k := range ep.Prediction.Context {
			keys[k] = true
		}
	}

	recommendation := Mapping{}
	for key := range keys {
		var values []Value
		for _, ep := range source {
			if v, ok := ep.Prediction.Context[key]; ok {
				values = append(values, v)
			}
		}
		recommendation[key] = summarizeValues(values)
	}
	return recommendation
}

// summarizeValues reduces a value list to its mean (all numeric) or
// its mode.
func summarizeValues(values []Value) Value {
	allNumeric := true
	sum := 0.0
	for _, v := range values {
		if !v.IsNumeric() {
			allNumeric = false
			break
		}
		sum += v.Midpoint()
	}
	if allNumeric && len(values) > 0 {
		return Number(sum / float64(len(values)))
	}
	return modeValue(values)
}

// modeValue returns the most frequent value, breaking ties by first
// appearance.
func modeValue(values []Value) Value {
	bestIdx, bestCount := 0, 0
	for i, v := range values {
		count := 0
		for _, o := range values {
			if v.Equal(o) {
				count++
			}
		}
		if count > bestCount {
			bestIdx, bestCount = i, count
		}
	}
	return values[bestIdx]
}

// conditionsCompatible reports whether two conditions describe the
// same situation: identical key sets, with each pair of values
// accepting the other under the tolerance.
func conditionsCompatible(a, b Mapping, tolerance float64) bool {
	if len(a) != len(b) {
		return false
	}
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			return false
		}
		if !av.Matches(bv, tolerance) && !bv.Matches(av, tolerance) {
			return false
		}
	}
	return true
}

// conditionMatchesContext reports whether every condition entry
// accepts the live context. A key missing from the context is a
// non-match.
func conditionMatchesContext(condition, context Mapping, tolerance float64) bool {
	if len(condition) == 0 {
		return false
	}
	for key, want := range condition {
		got, ok := context[key]
		if !ok {
			return false
		}
		if !want.Matches(got, tolerance) {
			return false
		}
	}
	return true
}

// conditionHash produces a stable content hash for a condition so
// equivalent conditions learned by different skills group together.
// Numbers are normalized to coarse buckets so values within the merge
// tolerance of each other usually land in the same bucket.
func conditionHash(condition Mapping) string {
	h := sha256.New()
	writeCanonicalMapping(h, condition)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func writeCanonicalMapping(w interface{ Write([]byte) (int, error) }, m Mapping) {
	for _, key := range m.SortedKeys() {
		fmt.Fprintf(w, "%s=", key)
		writeCanonicalValue(w, m[key])
		fmt.Fprint(w, ";")
	}
}

func writeCanonicalValue(w interface{ Write([]byte) (int, error) }, v Value) {
	switch v.Kind {
	case KindNumber:
		fmt.Fprintf(w, "n:%s", bucketNumber(v.Num))
	case KindRange:
		fmt.Fprintf(w, "r:%s..%s", bucketNumber(v.Min), bucketNumber(v.Max))
	case KindString:
		fmt.Fprintf(w, "s:%s", strings.ToLower(v.Str))
	case KindBool:
		fmt.Fprintf(w, "b:%t", v.Bool)
	case KindList:
		fmt.Fprint(w, "l:[")
		for _, e := range v.List {
			writeCanonicalValue(w, e)
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "]")
	case KindMap:
		fmt.Fprint(w, "m:{")
		writeCanonicalMapping(w, v.Map)
		fmt.Fprint(w, "}")
	}
}

// bucketNumber snaps a number to one significant-figure resolution so
// nearby values hash alike.
func bucketNumber(n float64) string {
	return fmt.Sprintf("%.1g", n)
}

// renderMapping flattens a mapping into text for token similarity
// scoring, keys sorted for determinism.
func renderMapping(m Mapping) string {
	var b strings.Builder
	renderMappingInto(&b, "", m)
	return strings.TrimSpace(b.String())
}

func renderMappingInto(b *strings.Builder, prefix string, m Mapping) {
	for _, key := range m.SortedKeys() {
		full := key
		if prefix != "" {
			full = prefix + " " + key
		}
		renderValueInto(b, full, m[key])
	}
}

func renderValueInto(b *strings.Builder, key string, v Value) {
	switch v.Kind {
	case KindNumber:
		fmt.Fprintf(b, "%s %g ", key, v.Num)
	case KindRange:
		fmt.Fprintf(b, "%s %g %g ", key, v.Min, v.Max)
	case KindString:
		fmt.Fprintf(b, "%s %s ", key, v.Str)
	case KindBool:
		fmt.Fprintf(b, "%s %t ", key, v.Bool)
	case KindList:
		for _, e := range v.List {
			renderValueInto(b, key, e)
		}
	case KindMap:
		renderMappingInto(b, key, v.Map)
	}
}
