package partition

import (
	"strconv"
	"strings"
)

// Resolve looks up a transform by its metadata name. Names are matched exactly
// and may carry a width parameter: "bucket[16]", "truncate[4]". A bare "bucket"
// or "truncate" resolves to an unbound transform whose width must come from the
// partition field definition.
func Resolve(name string) (Transform, bool) {
	base, param, hasParam := splitParam(name)

	var t Transform
	switch base {
	case "bucket":
		t.Kind = KindBucket
	case "truncate":
		t.Kind = KindTruncate
	case "identity":
		t.Kind = KindIdentity
	case "year":
		t.Kind = KindYear
	case "month":
		t.Kind = KindMonth
	case "day":
		t.Kind = KindDay
	case "hour":
		t.Kind = KindHour
	default:
		return Transform{}, false
	}

	if !hasParam {
		return t, true
	}
	if t.Kind != KindBucket && t.Kind != KindTruncate {
		return Transform{}, false
	}
	w, err := strconv.ParseUint(param, 10, 32)
	if err != nil || w == 0 {
		return Transform{}, false
	}
	t.Width = uint32(w)
	return t, true
}

func splitParam(name string) (base, param string, ok bool) {
	open := strings.IndexByte(name, '[')
	if open < 0 {
		return name, "", false
	}
	if !strings.HasSuffix(name, "]") {
		return name, "", false
	}
	return name[:open], name[open+1 : len(name)-1], true
}
