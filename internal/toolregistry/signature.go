package toolregistry

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sandboxrun/executor/internal/model"
)

// signatureVersion is prepended to every computed signature. Bumping it
// forces every workspace's registry to be considered stale on next read,
// regardless of whether any source actually changed.
const signatureVersion = "toolreg_v6"

// Signature computes the workspace registry signature: a version prefix
// followed by a sorted, comma-joined "id:updatedAtUnixNano:1" entry per
// enabled source. Disabled sources contribute nothing — removing a source
// from the enabled set changes the signature exactly like editing one.
func Signature(sources []*model.ToolSource) string {
	entries := make([]string, 0, len(sources))
	for _, s := range sources {
		if !s.Enabled {
			continue
		}
		entries = append(entries, s.ID+":"+strconv.FormatInt(s.UpdatedAt.UnixNano(), 10)+":1")
	}
	sort.Strings(entries)
	return signatureVersion + "|" + strings.Join(entries, ",")
}
