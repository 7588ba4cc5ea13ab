// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEncryptionMode(t *testing.T) {
	for in, want := range map[string]EncryptionMode{
		"optional": EncryptionOptional,
		"Required": EncryptionRequired,
		"DISABLED": EncryptionDisabled,
		"":         EncryptionOptional,
	} {
		got, err := ParseEncryptionMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseEncryptionMode("sometimes")
	require.Error(t, err)
}

// The full (mode, inbound-encrypted) decision table.
func TestShouldEncryptMatrix(t *testing.T) {
	cases := []struct {
		mode             EncryptionMode
		inboundEncrypted bool
		want             bool
	}{
		{EncryptionOptional, false, false},
		{EncryptionOptional, true, true},
		{EncryptionRequired, false, true},
		{EncryptionRequired, true, true},
		{EncryptionDisabled, false, false},
		{EncryptionDisabled, true, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.mode.ShouldEncrypt(tc.inboundEncrypted),
			"mode=%s inbound=%v", tc.mode, tc.inboundEncrypted)
	}
}

func TestEncryptionModeText(t *testing.T) {
	var m EncryptionMode
	require.NoError(t, m.UnmarshalText([]byte("required")))
	require.Equal(t, EncryptionRequired, m)
	require.Equal(t, "required", m.String())

	require.Error(t, m.UnmarshalText([]byte("bogus")))
}
