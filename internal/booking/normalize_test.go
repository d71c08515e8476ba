package booking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSlotTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "colon", input: "14:30", want: "14:30"},
		{name: "dot", input: "14.30", want: "14:30"},
		{name: "surrounding spaces", input: " 09:05 ", want: "09:05"},
		{name: "single digit hour", input: "9:30", wantErr: true},
		{name: "three groups", input: "10:00:00", wantErr: true},
		{name: "letters", input: "ab:cd", wantErr: true},
		{name: "hour out of range", input: "24:00", wantErr: true},
		{name: "minute out of range", input: "10:60", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSlotTime(tt.input)
			if tt.wantErr {
				assert.True(t, IsValidationError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalStoredTime(t *testing.T) {
	tests := []struct {
		stored string
		want   string
		ok     bool
	}{
		{"9.30", "09:30", true},
		{"09.30", "09:30", true},
		{"09:30", "09:30", true},
		{"9:30", "09:30", true},
		{"930", "", false},
		{"25.00", "", false},
		{"garbage", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			got, ok := CanonicalStoredTime(tt.stored)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeSlotDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "25.12", want: "25.12"},
		{input: "5.1", want: "05.01"},
		{input: "29.02", want: "29.02"},
		{input: "30.02", wantErr: true},
		{input: "31.04", wantErr: true},
		{input: "00.05", wantErr: true},
		{input: "12.13", wantErr: true},
		{input: "12-05", wantErr: true},
		{input: "123.05", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeSlotDate(tt.input)
			if tt.wantErr {
				assert.True(t, IsValidationError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeClientName(t *testing.T) {
	got, err := NormalizeClientName("  Ann  ")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got)

	// Decomposed "й" composes into one rune.
	got, err = NormalizeClientName("\u0418\u0438\u0306")
	require.NoError(t, err)
	assert.Equal(t, "\u0418\u0439", got)

	for _, bad := range []string{"", " ", "A", "  B  ", "\t\n"} {
		_, err := NormalizeClientName(bad)
		assert.True(t, IsValidationError(err), "input %q", bad)
	}

	_, err = NormalizeClientName(strings.Repeat("я", 65))
	assert.True(t, IsValidationError(err))
}

func TestNormalizeDayLabel(t *testing.T) {
	got, err := NormalizeDayLabel(" чт ")
	require.NoError(t, err)
	assert.Equal(t, "чт", got)

	_, err = NormalizeDayLabel("   ")
	assert.True(t, IsValidationError(err))
}
