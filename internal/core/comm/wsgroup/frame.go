// Package wsgroup implements comm.Group across processes. One hub process
// accepts a websocket connection from every member, matches their
// collective calls by sequence number and sends back the reductions.
package wsgroup

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/coupler/internal/core/comm"
)

type frameType string

const (
	frameJoin       frameType = "join"
	frameJoined     frameType = "joined"
	frameCollective frameType = "collective"
	frameResult     frameType = "result"
	frameError      frameType = "error"
)

type frame struct {
	Type        frameType `json:"type"`
	Rank        int       `json:"rank"`
	Size        int       `json:"size,omitempty"`
	Fingerprint uint64    `json:"fingerprint,omitempty"`
	Session     string    `json:"session,omitempty"`

	Seq    uint64    `json:"seq,omitempty"`
	Kind   comm.Kind `json:"kind,omitempty"`
	Op     comm.Op   `json:"op,omitempty"`
	Root   int       `json:"root,omitempty"`
	Values []int64   `json:"values,omitempty"`
	// HasValues distinguishes an empty reduction result from "not root".
	HasValues bool `json:"has_values,omitempty"`

	Error string `json:"error,omitempty"`
}

// Fingerprint identifies a membership. Hub and members compare it at join so
// a member configured for a different group is refused.
func Fingerprint(ranks []int) uint64 {
	sorted := slices.Clone(ranks)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, r := range sorted {
		parts[i] = strconv.Itoa(r)
	}
	return xxhash.Sum64String(strings.Join(parts, ","))
}

// DenseRanks returns 0..size-1.
func DenseRanks(size int) []int {
	ranks := make([]int, size)
	for i := range ranks {
		ranks[i] = i
	}
	return ranks
}
