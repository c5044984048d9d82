package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/chazu/matelearn/pkg/mate"
)

// RuleID derives a stable rule id from its key:
// LEARNED_<kind>_<pairA>-<pairB>_<first 8 hex digits of sha256(key)>.
func RuleID(k Key) string {
	canon := k.Kind.String() + "|" + k.Pair[0].String() + "|" + k.Pair[1].String()
	sum := sha256.Sum256([]byte(canon))
	return "LEARNED_" + k.Kind.String() + "_" + k.Pair[0].String() + "-" + k.Pair[1].String() +
		"_" + hex.EncodeToString(sum[:4])
}

// Digest fingerprints a multiset of observations. Any permutation of the
// same observations gives the same digest.
func Digest(obs []mate.Observation) string {
	lines := lo.Map(obs, func(o mate.Observation, _ int) string { return canonicalLine(o) })
	slices.Sort(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalLine(o mate.Observation) string {
	var b strings.Builder
	b.WriteString(o.Kind.String())
	for _, s := range []string{o.PartA, o.PartB, o.FeatureA, o.FeatureB, o.FeaturePair[0].String(), o.FeaturePair[1].String()} {
		b.WriteByte('\x1f')
		b.WriteString(s)
	}
	b.WriteByte('\x1f')
	b.WriteString(strconv.FormatFloat(o.Confidence, 'g', -1, 64))
	keys := lo.Keys(o.Params)
	slices.Sort(keys)
	for _, k := range keys {
		b.WriteByte('\x1f')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(o.Params[k], 'g', -1, 64))
	}
	return b.String()
}
