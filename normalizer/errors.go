package normalizer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaUnrecognized matches any *SchemaUnrecognizedError via errors.Is.
var ErrSchemaUnrecognized = errors.New("schema unrecognized")

// SchemaUnrecognizedError fails a whole batch before any row is processed.
type SchemaUnrecognizedError struct {
	Hint    string
	Headers []string
	Missing map[string][]string // adapter id -> unresolved required fields
}

func (e *SchemaUnrecognizedError) Error() string {
	if e.Hint != "" && e.Missing == nil {
		return fmt.Sprintf("schema unrecognized: unknown source %q", e.Hint)
	}
	if e.Hint != "" {
		return fmt.Sprintf("schema unrecognized: source %q requires %s, headers were [%s]",
			e.Hint, strings.Join(e.Missing[e.Hint], ", "), strings.Join(e.Headers, ", "))
	}
	return fmt.Sprintf("schema unrecognized: no adapter matches headers [%s]", strings.Join(e.Headers, ", "))
}

func (e *SchemaUnrecognizedError) Is(target error) bool {
	return target == ErrSchemaUnrecognized
}

// RowError is a row-level validation failure. The batch continues.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *RowError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func rowError(field Field, format string, args ...any) *RowError {
	return &RowError{Field: string(field), Message: fmt.Sprintf(format, args...)}
}
