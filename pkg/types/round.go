package types

import (
	"fmt"
	"strings"
	"time"
)

// RoundFingerprint identifies one scheduled betting interval independent of
// which on-chain condition id currently represents it. Two condition ids for
// the same asset, duration and end slot map to the same fingerprint, which is
// what prevents double-betting economically identical rounds.
type RoundFingerprint string

// RoundKey is a fingerprint narrowed to one side of the market.
type RoundKey string

// NewRoundFingerprint derives the fingerprint from the market's asset,
// duration and scheduled end. The end timestamp is truncated to the duration
// grid so that slightly drifted end times from different market listings
// still collapse to the same round.
func NewRoundFingerprint(asset string, durationMin int, marketEnd time.Time) RoundFingerprint {
	grid := time.Duration(durationMin) * time.Minute
	slot := marketEnd.UTC().Truncate(grid).Unix()
	return RoundFingerprint(fmt.Sprintf("%s|%dm|%d", strings.ToUpper(asset), durationMin, slot))
}

// NewRoundKey combines a fingerprint with a side.
func NewRoundKey(fp RoundFingerprint, side Side) RoundKey {
	return RoundKey(fmt.Sprintf("%s|%s", fp, side))
}
