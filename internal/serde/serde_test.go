package serde

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONSerializer_RoundTripsValues(t *testing.T) {
	s := JSONSerializer{}

	cases := []any{
		nil,
		42.0,
		"hello",
		map[string]any{"a": 1.0, "b": []any{"x", "y"}},
		true,
	}

	for _, c := range cases {
		blob, err := s.Serialize(c)
		require.NoError(t, err)

		got, err := s.Deserialize(blob)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestJSONSerializer_NullLiteral(t *testing.T) {
	s := JSONSerializer{}

	blob, err := s.Serialize(nil)
	require.NoError(t, err)
	require.Equal(t, NullLiteral, blob)

	got, err := s.Deserialize(NullLiteral)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestJSONSerializer_RoundTripsErrors(t *testing.T) {
	s := JSONSerializer{}

	original := errors.New("boom")
	blob, err := s.Serialize(original)
	require.NoError(t, err)

	got, err := s.Deserialize(blob)
	require.NoError(t, err)

	asErr, ok := got.(error)
	require.True(t, ok, "deserialized error value must satisfy error")
	require.Equal(t, "boom", asErr.Error())
}

func TestJSONSerializer_DeserializeEmptyString(t *testing.T) {
	s := JSONSerializer{}
	got, err := s.Deserialize("")
	require.NoError(t, err)
	require.Nil(t, got)
}
