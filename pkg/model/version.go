package model

// Version is a logical timestamp assigned by the backend. Versions only ever
// move forward; comparing them tells which of two states is newer.
type Version int64

// ZeroVersion sorts before every version the backend assigns. A document read
// at ZeroVersion has never been observed to exist.
const ZeroVersion Version = 0

func (v Version) Compare(other Version) int {
	switch {
	case v < other:
		return -1
	case v > other:
		return 1
	default:
		return 0
	}
}

func (v Version) After(other Version) bool  { return v > other }
func (v Version) Before(other Version) bool { return v < other }

// IndexOffset is a resumable position in (readTime, key) iteration order.
// Scans restart strictly after an offset, so a caller can page through an
// index without re-reading entries it has already seen.
type IndexOffset struct {
	ReadTime Version
	Key      DocumentKey
}

// ZeroIndexOffset sorts before every stored entry.
var ZeroIndexOffset = IndexOffset{}

// Compare orders offsets by read time, ties broken by key.
func (o IndexOffset) Compare(other IndexOffset) int {
	if c := o.ReadTime.Compare(other.ReadTime); c != 0 {
		return c
	}
	return o.Key.Compare(other.Key)
}

// OffsetAfterDocument is the position a scan must advance past to exclude doc.
func OffsetAfterDocument(doc Document) IndexOffset {
	return IndexOffset{ReadTime: doc.ReadTime, Key: doc.Key}
}
