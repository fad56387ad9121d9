// Package nstoken issues and verifies the HMAC-SHA1 capability tokens that
// authorise replica access, per spec.md §4.4 and §6.
package nstoken

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmgrid/nsfabric/pkg/nserr"
)

// fieldSep is the 0x1D byte used to separate the claimed fields before
// hashing, matching dmlite's token construction.
const fieldSep = byte(0x1D)

// VerifyResult enumerates the outcomes of Validate.
type VerifyResult int

const (
	Valid VerifyResult = iota
	InvalidSignature
	Expired
	WrongMode
)

func (r VerifyResult) String() string {
	switch r {
	case Valid:
		return "valid"
	case InvalidSignature:
		return "invalid_signature"
	case Expired:
		return "expired"
	case WrongMode:
		return "wrong_mode"
	default:
		return "unknown"
	}
}

func sign(userID, pfn, secret string, expiry int64, write bool) []byte {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(pfn))
	mac.Write([]byte{fieldSep})
	mac.Write([]byte(userID))
	mac.Write([]byte{fieldSep})
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	mac.Write([]byte{fieldSep})
	if write {
		mac.Write([]byte{'1'})
	} else {
		mac.Write([]byte{'0'})
	}
	return mac.Sum(nil)
}

// Generate produces "<base64(hmac)>@<expiry>@<writeFlag>".
func Generate(userID, pfn, secret string, ttl time.Duration, write bool) string {
	expiry := time.Now().Add(ttl).Unix()
	sig := base64.StdEncoding.EncodeToString(sign(userID, pfn, secret, expiry, write))
	w := "0"
	if write {
		w = "1"
	}
	return fmt.Sprintf("%s@%d@%s", sig, expiry, w)
}

// Validate parses and verifies a token against the expected userID, pfn and
// secret, requiring writeFlag >= wantWrite (invariant 5, spec.md §3).
func Validate(token, userID, pfn, secret string, wantWrite bool) VerifyResult {
	parts := strings.Split(token, "@")
	if len(parts) != 3 {
		return InvalidSignature
	}
	sig, expiryStr, writeStr := parts[0], parts[1], parts[2]

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return InvalidSignature
	}
	write := writeStr == "1"

	want := sign(userID, pfn, secret, expiry, write)
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return InvalidSignature
	}
	if time.Now().Unix() >= expiry {
		return Expired
	}
	if wantWrite && !write {
		return WrongMode
	}
	return Valid
}

// ValidateErr is a convenience wrapper returning a typed nserr.Error instead
// of a VerifyResult, for call sites (the IODriver) that treat any non-Valid
// outcome as a failure: every non-Valid result maps to nserr.InvalidToken.
func ValidateErr(token, userID, pfn, secret string, wantWrite bool) error {
	switch Validate(token, userID, pfn, secret, wantWrite) {
	case Valid:
		return nil
	case Expired:
		return nserr.New(nserr.InvalidToken, "token expired")
	case WrongMode:
		return nserr.New(nserr.InvalidToken, "token does not authorise write access")
	default:
		return nserr.New(nserr.InvalidToken, "bad signature")
	}
}
