package webstash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// DefaultViewKeyPrefix is prepended to request paths by the Cached
// middleware.
const DefaultViewKeyPrefix = "view/"

// RequestKey builds the cache key for a request: prefix plus path,
// or prefix plus path plus a hash of the sorted query string when
// useQuery is set, so ?a=1&b=2 and ?b=2&a=1 share an entry.
func RequestKey(r *http.Request, prefix string, useQuery bool) string {
	if !useQuery {
		return prefix + r.URL.Path
	}

	values := r.URL.Query()
	pairs := make([]string, 0, len(values))
	for name, vs := range values {
		for _, v := range vs {
			pairs = append(pairs, name+"="+v)
		}
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	return prefix + r.URL.Path + hex.EncodeToString(sum[:8])
}

// hashArg produces a short stable digest of a function argument for
// memoization keys. Arguments are canonicalized through JSON; values
// JSON cannot express fall back to their Go literal representation.
func hashArg(arg any) string {
	data, err := json.Marshal(arg)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", arg))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// sanitizeName strips whitespace and control characters from a
// function name so it is safe in any backend's key space.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, name)
}
