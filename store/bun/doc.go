// Package bunstore implements job.Store using the Bun ORM with the
// PostgreSQL dialect. It shares its schema and migrations with the pgx
// store, so both can run against the same database.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	if err := store.Migrate(ctx); err != nil {
//	    return err
//	}
package bunstore
