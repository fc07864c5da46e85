package db

import (
	"fmt"
	"strings"
)

// EscapeIdent quotes a table or column name for safe interpolation into SQL.
// Identifiers recorded in the hot change log travel through here before they
// are spliced back into rollback statements. An identifier that cannot be
// quoted safely is a corruption signal, not a recoverable condition.
func EscapeIdent(ident string) (string, error) {
	if ident == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if strings.ContainsRune(ident, 0) {
		return "", fmt.Errorf("identifier %q contains NUL", ident)
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`, nil
}
