package media

import (
	"crypto/sha256"
	"fmt"

	"github.com/pion/srtp/v3"
)

const (
	srtpKeyLen  = 16
	srtpSaltLen = 14
)

// newCryptoContext derives an AES-128 SRTP master key and salt from a
// session passphrase.
func newCryptoContext(passphrase string) (*srtp.Context, error) {
	sum := sha256.Sum256([]byte(passphrase))
	key := sum[:srtpKeyLen]
	salt := sum[srtpKeyLen : srtpKeyLen+srtpSaltLen]

	ctx, err := srtp.CreateContext(key, salt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return nil, fmt.Errorf("create srtp context: %w", err)
	}
	return ctx, nil
}
