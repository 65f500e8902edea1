package phone

import (
	"testing"

	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestVariants(t *testing.T) {
	t.Parallel()

	mobile := []string{
		"5511987654321",
		"551187654321",
		"5511987654321@s.whatsapp.net",
		"551187654321@s.whatsapp.net",
		"11987654321",
		"1187654321",
	}

	tcs := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "brazil mobile with ninth digit",
			raw:  "5511987654321",
			want: mobile,
		}, {
			name: "brazil mobile missing ninth digit",
			raw:  "551187654321",
			want: mobile,
		}, {
			name: "formatted with jid suffix",
			raw:  "+55 (11) 98765-4321@s.whatsapp.net",
			want: mobile,
		}, {
			name: "local without country code",
			raw:  "11987654321",
			want: mobile,
		}, {
			name: "trunk prefix",
			raw:  "0055 11 98765 4321",
			want: mobile,
		}, {
			name: "brazil landline",
			raw:  "551132654321",
			want: []string{
				"551132654321",
				"551132654321@s.whatsapp.net",
				"1132654321",
			},
		}, {
			name: "foreign number",
			raw:  "447911123456",
			want: []string{"447911123456", "447911123456@s.whatsapp.net"},
		}, {
			name: "empty",
			raw:  "",
			want: nil,
		}, {
			name: "no digits",
			raw:  "abc@s.whatsapp.net",
			want: nil,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Variants(tc.raw))
		})
	}
}

func TestVariants_NoDuplicates(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"5511987654321", "551187654321", "447911123456", "551132654321"} {
		variants := Variants(raw)
		seen := make(map[string]struct{}, len(variants))
		for _, v := range variants {
			_, ok := seen[v]
			assert.False(t, ok, "duplicate variant %s", v)
			seen[v] = struct{}{}
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name            string
		raw             string
		wantCanonical   string
		wantCorrections []string
		wantErr         error
	}{
		{
			name:          "already canonical",
			raw:           "5511987654321",
			wantCanonical: "5511987654321",
		}, {
			name:            "missing ninth digit",
			raw:             "551187654321",
			wantCanonical:   "5511987654321",
			wantCorrections: []string{"added mobile ninth digit"},
		}, {
			name:            "formatted",
			raw:             "+55 (11) 98765-4321",
			wantCanonical:   "5511987654321",
			wantCorrections: []string{"removed non-digit characters"},
		}, {
			name:            "trunk prefix and local number",
			raw:             "011987654321",
			wantCanonical:   "5511987654321",
			wantCorrections: []string{"removed trunk prefix", "added country code 55"},
		}, {
			name:            "jid suffix",
			raw:             "5511987654321@s.whatsapp.net",
			wantCanonical:   "5511987654321",
			wantCorrections: []string{"removed whatsapp suffix"},
		}, {
			name:          "landline keeps eight digits",
			raw:           "551132654321",
			wantCanonical: "551132654321",
		}, {
			name:          "foreign number",
			raw:           "447911123456",
			wantCanonical: "447911123456",
		}, {
			name:    "too short",
			raw:     "123",
			wantErr: errs.ErrInvalidAddress,
		}, {
			name:    "too long",
			raw:     "1234567890123456",
			wantErr: errs.ErrInvalidAddress,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, err := Normalize(tc.raw)
			assert.ErrorIs(t, err, tc.wantErr)
			if err != nil {
				return
			}
			assert.Equal(t, tc.raw, res.Raw)
			assert.Equal(t, tc.wantCanonical, res.Canonical)
			assert.Equal(t, tc.wantCorrections, res.Corrections)
			assert.Equal(t, len(tc.wantCorrections) > 0, res.Corrected())
		})
	}
}
