package es

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// computeDocumentHash derives the document hash chain value (spec.md §2.2,
// R3) deterministically from the active stream's identifying fields. No
// pack library specializes in deterministic struct hashing, so this uses the
// standard library directly (see DESIGN.md).
func computeDocumentHash(active StreamInfo) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s",
		active.StreamIdentifier,
		active.StreamType,
		active.CurrentVersion,
		active.DataStore,
		active.DocumentStore,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// computeCheckpointFingerprint derives an opaque hash identifying the exact
// set of (streamId, version) inputs a projection has consumed (spec.md §3
// "checkpointFingerprint", used to detect replay-divergence and as the
// immutable key for external checkpoint storage).
func computeCheckpointFingerprint(checkpoint Checkpoint) string {
	keys := make([]string, 0, len(checkpoint))
	for streamID := range checkpoint {
		keys = append(keys, streamID)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%d;", k, checkpoint[k])
	}

	h := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(h[:])
}
