package sqlutil

import "database/sql"

// ToSqlStringNonEmpty treats "" as NULL.
func ToSqlStringNonEmpty(val string) sql.NullString {
	return sql.NullString{String: val, Valid: val != ""}
}

// FromSqlString returns defaultVal for NULL.
func FromSqlString(val sql.NullString, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}
