// SPDX-License-Identifier: MPL-2.0

package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"
	"xec/xecerr"
)

func TestStore_SetGetRoundTrip(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Dispose()

	plaintext := []byte("hunter2")
	require.NoError(t, s.Set("k", plaintext))
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0}, plaintext)

	got, err := s.Get("k")
	require.NoError(t, err)
	require.Equal(t, "hunter2", string(got))
}

func TestStore_DisposedRejectsAccess(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Set("k", []byte("secret")))
	s.Dispose()

	_, err = s.Get("k")
	require.ErrorIs(t, err, xecerr.ErrDisposed)

	err = s.Set("k2", []byte("x"))
	require.ErrorIs(t, err, xecerr.ErrDisposed)
}

func TestFilter_MasksRegisteredPatterns(t *testing.T) {
	f := &Filter{}
	f.Register("hunter2", "")
	out := f.Apply("login with hunter2 now")
	require.Equal(t, "login with ***MASKED*** now", out)
}

func TestGeneratePassword_MeetsDefaultValidation(t *testing.T) {
	pw, err := GeneratePassword(GeneratorOptions{})
	require.NoError(t, err)
	require.Len(t, pw, 20)
	require.Empty(t, ValidatePassword(pw+"Aa1!"))
}

func TestValidatePassword_ReportsMissingClasses(t *testing.T) {
	issues := ValidatePassword("lower")
	require.Contains(t, issues, IssueTooShort)
	require.Contains(t, issues, IssueNoUpper)
	require.Contains(t, issues, IssueNoDigit)
	require.Contains(t, issues, IssueNoSymbol)
}
