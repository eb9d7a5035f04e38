package common

// ToggleMember returns a copy of ids with id removed if present, appended otherwise
func ToggleMember(ids []string, id string) []string {
	out := make([]string, 0, len(ids)+1)
	found := false
	for _, v := range ids {
		if v == id {
			found = true
			continue
		}
		out = append(out, v)
	}
	if !found {
		out = append(out, id)
	}
	return out
}

// Contains reports whether id is in ids
func Contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// CopyIDs returns a non-nil copy of ids
func CopyIDs(ids []string) []string {
	return append(make([]string, 0, len(ids)), ids...)
}
