// Package tabular stores named tables in a core.Store.
//
// A table is one metadata document in the tabular_meta collection plus a
// rows_<id> collection holding {"_row": index, "data": {...}} documents.
// Row indices stay dense and zero-based: deleting a row shifts every later
// index down by one.
package tabular
