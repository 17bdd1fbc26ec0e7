// Package compiler renders expression trees from package expr into SQL
// text for a specific database dialect.
//
// A Compiled statement records its bind parameters by name, the result
// columns it produces and the client side defaults to evaluate before
// execution:
//
//	c, err := compiler.Compile(users.Select().Where(users.C("id").EQ(5)), compiler.Postgres())
//	if err != nil {
//		return err
//	}
//	args, err := c.Args()
//
// Dialects differ in quoting, LIMIT/OFFSET syntax, RETURNING support and
// type DDL. SQL Server offsets are rewritten into a ROW_NUMBER() filter.
package compiler
