package utils

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/BartekS5/xfer/pkg/models"
)

func TestSQLLiteral(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"O'Brien", "'O''Brien'"},
		{models.EncodedString{Text: "ż", Encoding: "utf-16le"}, "N'ż'"},
		{models.EncodedString{Text: "é", Encoding: "latin-1"}, "'é'"},
		{true, "1"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{math.NaN(), "NULL"},
		{math.Inf(1), "NULL"},
		{at, "'2024-01-02 03:04:05'"},
		{[]byte{0xca, 0xfe}, "0xCAFE"},
	}
	for _, tt := range tests {
		got, err := SQLLiteral("sqlite", tt.in, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	got, err := SQLLiteral("sqlite", at, "2006-01-02")
	require.NoError(t, err)
	assert.Equal(t, "'2024-01-02'", got)

	_, err = SQLLiteral("sqlite", struct{}{}, "")
	assert.Error(t, err)
}

func TestSQLLiteralDriverEscaping(t *testing.T) {
	got, err := SQLLiteral("mysql", `C:\`, "")
	require.NoError(t, err)
	assert.Equal(t, `'C:\\'`, got)

	got, err = SQLLiteral("mysql", `it's \'`, "")
	require.NoError(t, err)
	assert.Equal(t, `'it''s \\'''`, got)

	got, err = SQLLiteral("sqlserver", `C:\`, "")
	require.NoError(t, err)
	assert.Equal(t, `'C:\'`, got)

	for _, enc := range []string{"utf16le", "UTF_16LE", "utf-16be"} {
		got, err = SQLLiteral("sqlserver", models.EncodedString{Text: "ż", Encoding: enc}, "")
		require.NoError(t, err)
		assert.Equal(t, "N'ż'", got, enc)
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`order total`", QuoteIdent("mysql", "order total"))
	assert.Equal(t, "`a``b`", QuoteIdent("mysql", "a`b"))
	assert.Equal(t, "[select]", QuoteIdent("sqlserver", "select"))
	assert.Equal(t, "[a]]b]", QuoteIdent("sqlserver", "a]b"))
	assert.Equal(t, `"order total"`, QuoteIdent("pgx", "order total"))
	assert.Equal(t, `"a""b"`, QuoteIdent("sqlite", `a"b`))
}

func TestNormalizeValue(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, NormalizeValue(nil))
	assert.Equal(t, "abc", NormalizeValue([]byte("abc")))
	assert.Equal(t, int64(3), NormalizeValue(int32(3)))
	assert.Equal(t, float64(float32(1.25)), NormalizeValue(float32(1.25)))
	assert.Equal(t, oid.Hex(), NormalizeValue(oid))
	assert.Equal(t, at, NormalizeValue(primitive.NewDateTimeFromTime(at)))
	assert.Equal(t, at, NormalizeValue(at))
}

func TestConvertDateTime(t *testing.T) {
	v, err := ConvertDateTime("2024-01-02 03:04:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), v)

	_, err = ConvertDateTime("yesterday")
	assert.Error(t, err)

	v, err = ConvertDateTime(42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestConvertToInt(t *testing.T) {
	n, err := ConvertToInt("12")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = ConvertToInt(3.9)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = ConvertToInt(true)
	assert.Error(t, err)
}
