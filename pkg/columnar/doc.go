// Package columnar implements the append-only record table that backs an
// exploration session.
//
// # Overview
//
// Records are addressed by a stable uint32 index assigned in load order.
// Every column is stored column-major and covers either no records (not
// materialized) or all records [0, Len()):
//
//   - StringColumn: dictionary-coded categorical values. The dictionary is
//     global to the table, so codes can be compared directly by filters.
//   - FloatColumn: float32 values with a null set. Used both for continuous
//     attributes and for raw coordinate candidates.
//
// The table additionally keeps three active coordinate arrays X, Y and Z,
// copied from the raw candidates selected by the current axes.
//
// # Growth
//
// Append adds a Batch of decoded rows. A batch must carry every column that
// is materialized on the table; the append is validated before any column
// is touched so a failed append leaves the table unchanged.
//
//	t := columnar.NewTable([]string{"x", "y", "z"}, [3]string{"x", "y", "z"})
//	err := t.Append(&columnar.Batch{
//	    Rows:    2,
//	    Numeric: map[string]columnar.NumericChunk{...},
//	})
//
// # Materialization
//
// SetStringColumn and SetFloatColumn attach a column decoded for the
// existing rows. The column length must equal Len().
//
// Table is not safe for concurrent mutation; the owning session serializes
// access.
package columnar
