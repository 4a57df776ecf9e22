package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingGetter struct {
	vals  map[string]string
	err   error
	calls int
	names []string
}

func (g *countingGetter) GetParameter(_ context.Context, name string) (string, error) {
	g.calls++
	g.names = append(g.names, name)
	if g.err != nil {
		return "", g.err
	}
	return g.vals[name], nil
}

func TestNewResolver_NilGetter(t *testing.T) {
	_, err := NewResolver(nil, "/prefix")
	require.Error(t, err)
}

func TestResolve_PrefixesAndCaches(t *testing.T) {
	g := &countingGetter{vals: map[string]string{"/search-agent/gemini_api_key": "gm"}}
	r, err := NewResolver(g, "/search-agent/")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := r.Resolve(context.Background(), "gemini_api_key")
		require.NoError(t, err)
		require.Equal(t, "gm", v)
	}
	require.Equal(t, 1, g.calls)
	require.Equal(t, []string{"/search-agent/gemini_api_key"}, g.names)
}

func TestResolve_FailureIsConfigurationErrorAndNotCached(t *testing.T) {
	g := &countingGetter{err: errors.New("ssm unavailable")}
	r, err := NewResolver(g, "/p")
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "google_cse_id")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "/p/google_cse_id", cfgErr.Parameter)
	require.ErrorContains(t, err, "ssm unavailable")

	g.err = nil
	g.vals = map[string]string{"/p/google_cse_id": "cx"}
	v, err := r.Resolve(context.Background(), "google_cse_id")
	require.NoError(t, err)
	require.Equal(t, "cx", v)
	require.Equal(t, 2, g.calls)
}

func TestResolve_BlankValueIsConfigurationError(t *testing.T) {
	g := &countingGetter{vals: map[string]string{"k": "  "}}
	r, err := NewResolver(g, "")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "k")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "k not configured")
}

func TestStaticGetter(t *testing.T) {
	s := StaticGetter{"gemini_api_key": "gm", "google_cse_id": ""}
	v, err := s.GetParameter(context.Background(), "gemini_api_key")
	require.NoError(t, err)
	require.Equal(t, "gm", v)

	_, err = s.GetParameter(context.Background(), "google_cse_id")
	require.ErrorIs(t, err, ErrMissing)

	_, err = s.GetParameter(context.Background(), "google_cse_api_key")
	require.ErrorIs(t, err, ErrMissing)
}
