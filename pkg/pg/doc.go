// Package pg wraps the pgx/v5 pool with the pieces every store needs:
// env-driven Config, Connect with retry, embedded goose migrations, a
// transaction helper and SQLSTATE classification.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil { ... }
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, cfg, log); err != nil { ... }
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "UPDATE ...")
//		return err
//	})
package pg
