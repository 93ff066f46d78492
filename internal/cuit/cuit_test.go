package cuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain digits", in: "20102000537", want: "20102000537"},
		{name: "hyphenated", in: "20-10200053-7", want: "20102000537"},
		{name: "dots and spaces", in: "20.10200053.7 ", want: "20102000537"},
		{name: "too short", in: "20-1020005-7", wantErr: true},
		{name: "too long", in: "201020005371", wantErr: true},
		{name: "letters", in: "20-10200O53-7", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValid(t *testing.T) {
	// 20-10200053-7 carries a correct verifier digit.
	assert.True(t, Valid("20-10200053-7"))
	assert.True(t, Valid("20102000537"))

	// Same prefix, wrong verifier.
	assert.False(t, Valid("20-10200053-8"))
	assert.False(t, Valid("20102000530"))

	// Garbage.
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-cuit"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "20-10200053-7", Format("20102000537"))
	assert.Equal(t, "20-10200053-7", Format("20-10200053-7"))
	// Unnormalizable input passes through untouched.
	assert.Equal(t, "abc", Format("abc"))
}
