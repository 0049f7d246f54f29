package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(4)

	require.NoError(t, err)
	require.Len(t, code, 4)
	for _, c := range code {
		require.Contains(t, codeChars, string(c), "code must use the documented charset")
	}
}

func TestMemoryStore(t *testing.T) {
	t.Run("save and get", func(t *testing.T) {
		s := NewMemoryStore()

		err := s.Save(t.Context(), "user:card", "AB12", time.Hour)
		require.NoError(t, err)

		code, err := s.Get(t.Context(), "user:card")
		require.NoError(t, err)
		require.Equal(t, "AB12", code)
	})

	t.Run("missing key", func(t *testing.T) {
		s := NewMemoryStore()

		_, err := s.Get(t.Context(), "nope")
		require.ErrorIs(t, err, ErrCodeNotFound)
	})

	t.Run("expired code", func(t *testing.T) {
		s := NewMemoryStore()
		now := time.Now()
		s.Now = func() time.Time { return now }

		err := s.Save(t.Context(), "user:card", "AB12", time.Hour)
		require.NoError(t, err)

		s.Now = func() time.Time { return now.Add(time.Hour + time.Second) }

		_, err = s.Get(t.Context(), "user:card")
		require.ErrorIs(t, err, ErrCodeNotFound, "expired code must not be returned")
	})

	t.Run("save overwrites", func(t *testing.T) {
		s := NewMemoryStore()

		require.NoError(t, s.Save(t.Context(), "k", "OLD1", time.Hour))
		require.NoError(t, s.Save(t.Context(), "k", "NEW2", time.Hour))

		code, err := s.Get(t.Context(), "k")
		require.NoError(t, err)
		require.Equal(t, "NEW2", code)
	})

	t.Run("delete", func(t *testing.T) {
		s := NewMemoryStore()

		require.NoError(t, s.Save(t.Context(), "k", "AB12", time.Hour))
		require.NoError(t, s.Delete(t.Context(), "k"))

		_, err := s.Get(t.Context(), "k")
		require.ErrorIs(t, err, ErrCodeNotFound)
	})
}
