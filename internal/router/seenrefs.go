package router

// refRing remembers the most recent acknowledgement references so a
// message duplicated across redundant channels is processed once. Old
// entries fall off as new ones arrive.
type refRing struct {
	refs []string
	next int
	full bool
}

func newRefRing(size int) *refRing {
	return &refRing{refs: make([]string, size)}
}

// Seen reports whether ref was added since the last `size` additions.
func (r *refRing) Seen(ref string) bool {
	n := r.next
	if r.full {
		n = len(r.refs)
	}
	for i := 0; i < n; i++ {
		if r.refs[i] == ref {
			return true
		}
	}
	return false
}

func (r *refRing) Add(ref string) {
	r.refs[r.next] = ref
	r.next++
	if r.next == len(r.refs) {
		r.next = 0
		r.full = true
	}
}
