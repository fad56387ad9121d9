package nstoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	tok := Generate("alice", "/pfn/x", "secret", time.Minute, false)
	assert.Equal(t, Valid, Validate(tok, "alice", "/pfn/x", "secret", false))
	assert.NotEqual(t, Valid, Validate(tok, "bob", "/pfn/x", "secret", false))
	assert.NotEqual(t, Valid, Validate(tok, "alice", "/pfn/y", "secret", false))
	assert.NotEqual(t, Valid, Validate(tok, "alice", "/pfn/x", "wrong", false))
}

func TestValidateRequiresSufficientMode(t *testing.T) {
	tok := Generate("alice", "/pfn/x", "secret", time.Minute, false)
	assert.Equal(t, WrongMode, Validate(tok, "alice", "/pfn/x", "secret", true))

	wtok := Generate("alice", "/pfn/x", "secret", time.Minute, true)
	assert.Equal(t, Valid, Validate(wtok, "alice", "/pfn/x", "secret", true))
	assert.Equal(t, Valid, Validate(wtok, "alice", "/pfn/x", "secret", false))
}

func TestValidateExpires(t *testing.T) {
	tok := Generate("alice", "/pfn/x", "secret", -time.Second, false)
	assert.Equal(t, Expired, Validate(tok, "alice", "/pfn/x", "secret", false))
}

func TestValidateMalformed(t *testing.T) {
	assert.Equal(t, InvalidSignature, Validate("garbage", "alice", "/pfn/x", "secret", false))
}
