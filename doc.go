// Package strata is an object-relational mapper built around a unit of work.
//
// The module is layered leaf-first:
//
//   - dialect: driver interfaces and per-database capability flags.
//   - dialect/sql: a database/sql backed driver with statistics and debug wrappers.
//   - dialect/sql/types: column type descriptors with bind and result processing.
//   - dialect/sql/expr: the SQL expression tree and the table catalog.
//   - dialect/sql/compiler: renders expression trees into dialect specific SQL.
//   - dialect/sql/schema: catalog validation, YAML catalogs and DDL execution.
//   - orm/attributes: per-instance change tracking.
//   - orm: mappers, the session, the identity map, flush ordering and queries.
//
// This package holds the error types shared by all of them.
package strata
