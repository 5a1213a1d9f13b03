// Package integrity provides tamper-evident hashing and Merkle tree construction
// for the finalized-run ledger. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Hash version prefix. Bump when the canonical encoding changes so stored
// hashes stay verifiable.
const hashV1Prefix = "v1:"

// Step is the canonical content of one node on a finalized path.
type Step struct {
	NodeID  uuid.UUID
	Depth   int
	Thought string
	Score   float64
}

// Record is the canonical content of one finalized run.
type Record struct {
	RunID         uuid.UUID
	TaskPrompt    string
	Mode          string
	Level         string
	NodesExplored int
	FinalAnswer   string
	Confidence    float64
	FinalizedAt   time.Time
}

// fieldWriter hashes length-prefixed fields. Each field is a 4-byte
// big-endian length followed by its bytes, so free text containing any
// delimiter cannot collide with a different field split.
type fieldWriter struct {
	buf []byte
}

func (w *fieldWriter) str(s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // field lengths are bounded by model text limits
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, s...)
}

func (w *fieldWriter) int(n int) { w.str(strconv.Itoa(n)) }

func (w *fieldWriter) float(f float64) { w.str(strconv.FormatFloat(f, 'f', 10, 64)) }

func (w *fieldWriter) sum(prefix byte) string {
	h := sha256.New()
	h.Write([]byte{prefix})
	h.Write(w.buf)
	return hex.EncodeToString(h.Sum(nil))
}

// HashStep returns the leaf hash of one path step.
func HashStep(s Step) string {
	var w fieldWriter
	w.str(s.NodeID.String())
	w.int(s.Depth)
	w.str(s.Thought)
	w.float(s.Score)
	return w.sum(0x00) // leaf domain separator
}

// PathRoot is the Merkle root over the steps in path order, root first.
// Order is significant: the same steps in another order are another path.
func PathRoot(steps []Step) string {
	leaves := make([]string, len(steps))
	for i, s := range steps {
		leaves[i] = HashStep(s)
	}
	return BuildMerkleRoot(leaves)
}

// ComputeRunHash produces a versioned digest binding a record to its path
// root and to the hash of the ledger entry before it. prevHash is empty for
// the first entry.
func ComputeRunHash(r Record, pathRoot, prevHash string) string {
	var w fieldWriter
	w.str(r.RunID.String())
	w.str(r.TaskPrompt)
	w.str(r.Mode)
	w.str(r.Level)
	w.int(r.NodesExplored)
	w.str(r.FinalAnswer)
	w.float(r.Confidence)
	w.str(r.FinalizedAt.UTC().Format(time.RFC3339Nano))
	w.str(pathRoot)
	w.str(prevHash)
	return hashV1Prefix + w.sum(0x02) // record domain separator
}

// VerifyRunHash checks whether a stored hash matches the recomputed one.
// Unknown versions never verify.
func VerifyRunHash(stored string, r Record, pathRoot, prevHash string) bool {
	if !strings.HasPrefix(stored, hashV1Prefix) {
		return false
	}
	return stored == ComputeRunHash(r, pathRoot, prevHash)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per RFC 6962),
// ensuring internal node hashes can never collide with leaf hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01}) // internal node domain separator
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves are combined in the order given.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself for structural binding.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Odd node: hash with itself for structural binding to tree position.
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
