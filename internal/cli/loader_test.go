package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/lower"
)

func TestLoadModel(t *testing.T) {
	result, errs := LoadModel("testdata/model", LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, result.Model)
	assert.Equal(t, 1, result.FileCount)

	_, ok := result.Model.Definition("bookshop.Books")
	assert.True(t, ok)
}

func TestLoadModel_Errors(t *testing.T) {
	testCases := []struct {
		name string
		dir  string
		code string
	}{
		{"missing directory", "testdata/missing", ErrCodeNotFound},
		{"not a directory", "testdata/seed.yaml", ErrCodeNotFound},
		{"no CUE files", "testdata/queries", ErrCodeNoFiles},
		{"link errors", "testdata/broken", ErrCodeLinkFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, errs := LoadModel(tc.dir, LoadModeFailFast)
			assert.Nil(t, result)
			require.NotEmpty(t, errs)
			var le *LoadError
			require.True(t, errors.As(errs[0], &le))
			assert.Equal(t, tc.code, le.Code)
		})
	}
}

func TestLoadModel_CollectsLinkErrors(t *testing.T) {
	_, errs := LoadModel("testdata/broken", LoadModeCollectAll)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.Contains(t, err.Error(), "unknown association target")
	}
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeBuildFailed, MapFieldToErrorCode("cue"))
	assert.Equal(t, ErrCodeInvalidOn, MapFieldToErrorCode("entity.Authors.books.on"))
	assert.Equal(t, ErrCodeInvalidTypeOf, MapFieldToErrorCode("entity.Authors.birthCity.typeOf"))
	assert.Equal(t, ErrCodeInvalidDef, MapFieldToErrorCode("entity.Authors"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("namespace"))
}

func TestLowerErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeReference, LowerErrorCode(&lower.Error{Kind: lower.ReferenceError}))
	assert.Equal(t, ErrCodePathShape, LowerErrorCode(&lower.Error{Kind: lower.PathShapeError}))
	assert.Equal(t, ErrCodeGroupByMismatch, LowerErrorCode(&lower.Error{Kind: lower.GroupByMismatchError}))
	assert.Equal(t, ErrCodeUnsupportedOp, LowerErrorCode(&lower.Error{Kind: lower.UnsupportedOperatorError}))
	assert.Equal(t, ErrCodeDuplicateColumn, LowerErrorCode(&lower.Error{Kind: lower.DuplicateColumnNameError}))
	assert.Equal(t, ErrCodeGeneric, LowerErrorCode(errors.New("other")))
}

func TestLoadQuery(t *testing.T) {
	q, err := LoadQuery("testdata/queries/reviewed.yaml", nil)
	require.NoError(t, err)
	assert.Len(t, q.Columns, 2)

	q, err = LoadQuery("-", strings.NewReader(`{from: bookshop.Books, columns: [title]}`))
	require.NoError(t, err)
	assert.Len(t, q.Columns, 1)

	_, err = LoadQuery("testdata/queries/malformed.yaml", nil)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeBadQuery, le.Code)

	_, err = LoadQuery("testdata/queries/missing.yaml", nil)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)
}
