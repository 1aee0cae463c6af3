package prefixcache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// rootHash seeds every hash chain so the empty prefix has a stable non-zero
// identity and chains of different allocator generations stay comparable.
var rootHash = xxhash.Sum64String("pagedkv.chain.root")

// chainHash computes the content hash of a full block from its
// predecessor's hash and its tokens. Because prevHash transitively covers
// the whole preceding chain, equal hashes mean equal full prefixes.
func chainHash(prevHash uint64, tokenIDs []int) uint64 {
	d := xxhash.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], prevHash)
	_, _ = d.Write(buf[:])

	for _, t := range tokenIDs {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(t)))
		_, _ = d.Write(buf[:])
	}

	return d.Sum64()
}
