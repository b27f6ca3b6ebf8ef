package sync

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/zsiec/lockstep/internal/playback"
)

// maxSharedStreams bounds the v1..vN parameters read from a share query.
const maxSharedStreams = 10

// EncodeShareQuery renders specs as v1=<id>&o1=<ms>... Streams without a
// usable identifier keep their slot number but are omitted, and zero
// offsets are left out.
func EncodeShareQuery(specs []StreamSpec) string {
	params := url.Values{}
	for i, spec := range specs {
		vid := playback.ExtractVideoID(spec.Identifier)
		if vid == "" {
			continue
		}
		params.Set(fmt.Sprintf("v%d", i+1), vid)
		if spec.OffsetMs != 0 {
			params.Set(fmt.Sprintf("o%d", i+1), strconv.Itoa(spec.OffsetMs))
		}
	}
	return params.Encode()
}

// ParseShareQuery reads a share query produced by EncodeShareQuery. ok is
// false when no v parameter is present at all, which callers treat as "use
// the defaults".
func ParseShareQuery(query string) (specs []StreamSpec, ok bool) {
	params, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, false
	}

	for i := 1; i <= maxSharedStreams; i++ {
		key := fmt.Sprintf("v%d", i)
		if !params.Has(key) {
			continue
		}
		ok = true

		vid := playback.ExtractVideoID(params.Get(key))
		if vid == "" {
			continue
		}
		offset, _ := strconv.Atoi(params.Get(fmt.Sprintf("o%d", i)))
		specs = append(specs, StreamSpec{Identifier: vid, OffsetMs: offset})
	}
	if ok && specs == nil {
		// Every shared slot was unusable: an explicitly empty session
		specs = []StreamSpec{}
	}
	return specs, ok
}
