package refcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromIDDeterministic(t *testing.T) {
	a := FromID("6b2f1c9a-9f2e-4d1a-8a77-0123456789ab")
	b := FromID("6b2f1c9a-9f2e-4d1a-8a77-0123456789ab")
	assert.Equal(t, a, b)
	assert.True(t, Valid(a), "derived code should match the code shape: %s", a)
}

func TestFromIDDistinguishesIDs(t *testing.T) {
	assert.NotEqual(t, FromID("id-one"), FromID("id-two"))
}

func TestValid(t *testing.T) {
	testCases := []struct {
		code string
		want bool
	}{
		{"BK-DEADBEEF", true},
		{"bk-deadbeef", true},
		{"BK-12345678", true},
		{"BK-1234567", false},
		{"XX-DEADBEEF", false},
		{"", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Valid(tc.code), tc.code)
	}
}
