package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// HashPassword Tests
// ============================================

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"minimum length", "8chars!!"},
		{"passphrase", "blue vase on the top shelf"},
		{"symbols", "r#9!kQ@2m"},
		{"devanagari", "गुप्तशब्द१२३"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)
			assert.True(t, strings.HasPrefix(hash, "$2a$"), "expected a bcrypt hash, got %q", hash)
		})
	}
}

func TestHashPassword_TooShort(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"seven chars", "shelf-7"},
		{"empty", ""},
		{"only spaces", "      "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			assert.ErrorIs(t, err, ErrPasswordTooShort)
			assert.Empty(t, hash)
		})
	}
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	hash1, err := HashPassword("blue vase on the top shelf")
	require.NoError(t, err)
	hash2, err := HashPassword("blue vase on the top shelf")
	require.NoError(t, err)

	// Same password, fresh salt, different hash.
	assert.NotEqual(t, hash1, hash2)
}

// ============================================
// CheckPassword Tests
// ============================================

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("blue vase on the top shelf")
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"correct", "blue vase on the top shelf", true},
		{"wrong password", "red lamp in the window", false},
		{"case matters", "Blue vase on the top shelf", false},
		{"empty attempt", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckPassword(tt.password, hash))
		})
	}
}

func TestCheckPassword_BadHash(t *testing.T) {
	assert.False(t, CheckPassword("blue vase on the top shelf", "not-a-bcrypt-hash"))
	assert.False(t, CheckPassword("blue vase on the top shelf", ""))
}
