package coerce

import "strings"

// Code: код типа колонки в нумерации binlog (MYSQL_TYPE_*).
type Code byte

const (
	Decimal     Code = 0
	Tiny        Code = 1
	Short       Code = 2
	Long        Code = 3
	Float       Code = 4
	Double      Code = 5
	Null        Code = 6
	Timestamp   Code = 7
	LongLong    Code = 8
	Int24       Code = 9
	Date        Code = 10
	Time        Code = 11
	DateTime    Code = 12
	Year        Code = 13
	NewDate     Code = 14
	VarChar     Code = 15
	Bit         Code = 16
	TimestampV2 Code = 17
	DateTimeV2  Code = 18
	TimeV2      Code = 19
	JSON        Code = 245
	NewDecimal  Code = 246
	Enum        Code = 247
	Set         Code = 248
	TinyBlob    Code = 249
	MediumBlob  Code = 250
	LongBlob    Code = 251
	Blob        Code = 252
	VarString   Code = 253
	String      Code = 254
	Geometry    Code = 255
)

func (c Code) IsTemporal() bool {
	switch c {
	case Timestamp, Date, Time, DateTime, Year, NewDate, TimestampV2, DateTimeV2, TimeV2:
		return true
	}
	return false
}

func (c Code) IsInteger() bool {
	switch c {
	case Tiny, Short, Long, LongLong, Int24, Year, Bit:
		return true
	}
	return false
}

func (c Code) String() string {
	switch c {
	case Tiny:
		return "tiny"
	case Short:
		return "short"
	case Long:
		return "long"
	case LongLong:
		return "longlong"
	case Int24:
		return "int24"
	case Float:
		return "float"
	case Double:
		return "double"
	case Decimal, NewDecimal:
		return "decimal"
	case Date, NewDate:
		return "date"
	case Time, TimeV2:
		return "time"
	case DateTime, DateTimeV2:
		return "datetime"
	case Timestamp, TimestampV2:
		return "timestamp"
	case Year:
		return "year"
	case Bit:
		return "bit"
	case JSON:
		return "json"
	case Enum:
		return "enum"
	case Set:
		return "set"
	case TinyBlob, MediumBlob, LongBlob, Blob:
		return "blob"
	case VarChar, VarString, String:
		return "string"
	case Geometry:
		return "geometry"
	case Null:
		return "null"
	}
	return "unknown"
}

// CodeForDatabaseType переводит имя типа из database/sql (pgx, sqlite) в код колонки.
// Неизвестные типы читаем как строку.
func CodeForDatabaseType(name string) Code {
	t := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case t == "INT2" || t == "SMALLINT":
		return Short
	case t == "INT4" || t == "INT" || t == "INTEGER" || t == "MEDIUMINT":
		return Long
	case t == "INT8" || t == "BIGINT":
		return LongLong
	case t == "FLOAT4" || t == "REAL" || t == "FLOAT":
		return Float
	case t == "FLOAT8" || t == "DOUBLE" || t == "DOUBLE PRECISION":
		return Double
	case strings.HasPrefix(t, "NUMERIC") || strings.HasPrefix(t, "DECIMAL"):
		return NewDecimal
	case t == "BOOL" || t == "BOOLEAN":
		return Tiny
	case t == "DATE":
		return Date
	case strings.HasPrefix(t, "TIMESTAMP") || t == "DATETIME":
		return DateTime
	case t == "TIME" || t == "TIMETZ":
		return Time
	case t == "JSON" || t == "JSONB":
		return JSON
	case t == "BYTEA" || t == "BLOB":
		return Blob
	}
	return String
}
