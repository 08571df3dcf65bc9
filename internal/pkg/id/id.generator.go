package id

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
)

const ticketIDLength = 8

// GenerateTicketID creates the human-referencable ticket identifier, a "#"
// followed by 8 uppercase base36 characters, e.g. "#D4F7X2K9". The leading
// "#" must be percent-encoded at any transport boundary.
func GenerateTicketID() string {
	return "#" + randomBase36(ticketIDLength)
}

// GenerateEntryID creates a sortable unique id for transcript entries.
func GenerateEntryID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

func randomBase36(n int) string {
	const chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		out[i] = chars[num.Int64()]
	}
	return string(out)
}
