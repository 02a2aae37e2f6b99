package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConflictsError(t *testing.T) {
	e := NewConflictsError("HERC-AAAA-BBBB-CCCC")
	b, err := json.Marshal(e)
	require.NoError(t, err)
	require.Equal(t, `{"id":"HERC-AAAA-BBBB-CCCC","error":"resource already exists"}`, string(b))
}

func TestRateLimitedError(t *testing.T) {
	b, err := json.Marshal(NewRateLimitedError(90))
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"too many failed attempts","retry_after_seconds":90}`, string(b))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "30d", want: "720h0m0s"},
		{in: "24h", want: "24h0m0s"},
		{in: "1ms", want: "1ms"},
		{in: "xd", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDuration(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d.String())
		})
	}
}

func TestDurationUnmarshalSeconds(t *testing.T) {
	var v struct {
		TTL Duration `json:"ttl"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"ttl":90}`), &v))
	require.Equal(t, "1m30s", v.TTL.Duration().String())
	require.NoError(t, json.Unmarshal([]byte(`{"ttl":"30d"}`), &v))
	require.Equal(t, "720h0m0s", v.TTL.Duration().String())
}
