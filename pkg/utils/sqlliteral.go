package utils

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BartekS5/xfer/pkg/models"
)

// DefaultDateTimeLayout is the literal layout used for datetime cells.
const DefaultDateTimeLayout = "2006-01-02 15:04:05"

// SQLLiteral renders a record value as an inline SQL literal for the
// row-by-row insert path on driver. Strings are quoted with ' doubled, and on
// mysql backslashes are doubled too. nil and NaN become NULL and datetimes
// use layout.
func SQLLiteral(driver string, val interface{}, layout string) (string, error) {
	if layout == "" {
		layout = DefaultDateTimeLayout
	}
	switch v := val.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(driver, v), nil
	case models.EncodedString:
		if isUTF16(v.Encoding) {
			return "N" + quote(driver, v.Text), nil
		}
		return quote(driver, v.Text), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return floatLiteral(float64(v)), nil
	case float64:
		return floatLiteral(v), nil
	case time.Time:
		return quote(driver, v.Format(layout)), nil
	case []byte:
		return "0x" + strings.ToUpper(hex.EncodeToString(v)), nil
	default:
		return "", fmt.Errorf("cannot render %T as a SQL literal", val)
	}
}

func quote(driver, s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if driver == "mysql" {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + s + "'"
}

func isUTF16(encoding string) bool {
	e := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(encoding))
	return strings.HasPrefix(e, "utf16")
}

// QuoteIdent quotes a column name for driver, doubling any embedded quote
// character.
func QuoteIdent(driver, name string) string {
	switch driver {
	case "mysql":
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case "sqlserver":
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

func floatLiteral(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NULL"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
