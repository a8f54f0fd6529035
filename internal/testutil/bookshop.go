package testutil

import (
	_ "embed"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/compiler"
	"github.com/roach88/cqnlower/internal/csn"
)

// BookshopCUE is the model most lowering tests run against.
//
//go:embed bookshop.cue
var BookshopCUE string

// BookshopSeed is sample data for the bookshop model, keyed by entity.
//
//go:embed bookshop_seed.yaml
var BookshopSeed []byte

// Bookshop compiles and links the bookshop model.
func Bookshop(t testing.TB) *csn.Model {
	t.Helper()
	return CompileModel(t, BookshopCUE)
}

// CompileModel compiles a CUE model source, failing the test on error.
func CompileModel(t testing.TB, src string) *csn.Model {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err(), "CUE syntax error")
	m, err := compiler.CompileModel(v)
	require.NoError(t, err, "model must compile")
	return m
}
