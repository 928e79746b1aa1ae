package btree

import "golang.org/x/text/collate"

// BytesComparator is the default Compare: plain byte-lexicographic
// ordering, matching spec.md's requirement that keys compare the same way
// bytes.Compare does.
func BytesComparator(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// CollatingComparator returns a Compare that orders string keys by
// locale-aware collation rules instead of raw byte order (e.g. so that
// accented characters sort adjacent to their unaccented counterparts),
// for tables whose primary key is a VARCHAR/CHAR column carrying natural-
// language text. Non-text callers should use BytesComparator instead.
func CollatingComparator(c *collate.Collator) Compare {
	return func(a, b []byte) int {
		return c.CompareString(string(a), string(b))
	}
}
