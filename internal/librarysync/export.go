package librarysync

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	entryStart = regexp.MustCompile(`(?m)^\s*@`)
	adsURLID   = regexp.MustCompile(`adsurl\s*=\s*[{"][^}"]*/abs/([^}"/\s]+)`)
)

// splitExport attributes each entry of a concatenated BibTeX export to one
// of ids. An entry is matched by the id in its adsurl field, then by the
// first unmatched id it contains. Unattributed entries are dropped.
func splitExport(blob string, ids []string) map[string]string {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	out := make(map[string]string, len(ids))
	var leftovers []string

	for _, entry := range splitEntries(blob) {
		if id, ok := adsURLMatch(entry); ok && wanted[id] {
			if _, taken := out[id]; !taken {
				out[id] = entry
				continue
			}
		}
		leftovers = append(leftovers, entry)
	}

	for _, entry := range leftovers {
		for _, id := range ids {
			if _, taken := out[id]; taken {
				continue
			}
			if strings.Contains(entry, id) {
				out[id] = entry
				break
			}
		}
	}
	return out
}

// splitEntries cuts blob at every line starting with '@'.
func splitEntries(blob string) []string {
	locs := entryStart.FindAllStringIndex(blob, -1)
	entries := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(blob)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if entry := strings.TrimSpace(blob[loc[0]:end]); entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

func adsURLMatch(entry string) (string, bool) {
	m := adsURLID.FindStringSubmatch(entry)
	if m == nil {
		return "", false
	}
	id, err := url.PathUnescape(m[1])
	if err != nil {
		return m[1], true
	}
	return id, true
}
