package digest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/errs"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestCompute_MatchesSHA256(t *testing.T) {
	for _, payload := range []string{"", "hello", strings.Repeat("x", 1<<20)} {
		d, err := Compute(strings.NewReader(payload))
		require.NoError(t, err)
		require.Equal(t, sha(payload), d.String())
		require.Equal(t, d, Sum([]byte(payload)))
	}
}

func TestCompute_IsDeterministic(t *testing.T) {
	a, err := Compute(strings.NewReader("same bytes"))
	require.NoError(t, err)
	b, err := Compute(strings.NewReader("same bytes"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCompute_PropagatesReadErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Compute(io.MultiReader(strings.NewReader("abc"), errReader{boom}))
	require.ErrorIs(t, err, boom)
}

func TestVerify(t *testing.T) {
	d := Sum([]byte("payload"))
	ok, err := Verify(d, strings.NewReader("payload"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify(d, strings.NewReader("other"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParse(t *testing.T) {
	s := sha("abc")
	d, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, s, d.String())

	for _, bad := range []string{"", "abc123", strings.ToUpper(s), s + "0", strings.Repeat("g", 64)} {
		_, err := Parse(bad)
		require.Error(t, err, bad)
	}
}

func TestCIDRoundTrip(t *testing.T) {
	d := Sum([]byte("cid me"))
	id := d.CID()
	require.True(t, id.Defined())

	back, err := FromCID(id)
	require.NoError(t, err)
	require.Equal(t, d, back)
}

func TestReader_MatchReportsEOF(t *testing.T) {
	payload := []byte("verified content")
	r := NewReader(context.Background(), bytes.NewReader(payload), Sum(payload))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.True(t, r.Verified())
	require.EqualValues(t, len(payload), r.Size())
}

func TestReader_MismatchReplacesEOF(t *testing.T) {
	r := NewReader(context.Background(), strings.NewReader("actual"), Sum([]byte("declared")))
	_, err := io.ReadAll(r)
	require.True(t, errs.IsKind(err, errs.KindDigestMismatch), "got %v", err)
	require.False(t, r.Verified())

	_, err = r.Read(make([]byte, 1))
	require.True(t, errs.IsKind(err, errs.KindDigestMismatch), "error should be sticky")
}

func TestReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReader(ctx, strings.NewReader("x"), Sum([]byte("x")))
	_, err := io.ReadAll(r)
	require.ErrorIs(t, err, context.Canceled)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
