// Package strata holds the error types shared by the packages of the
// module.
//
// The module is organized as follows:
//
//   - dialect: dialect names and the driver contract
//   - dialect/sql: expression compiler, query builders and the
//     database/sql driver
//   - dialect/sql/schema: table model, dependency ordering and migrations
//   - dialect/sql/sqlerr: classification of constraint violations
//   - entity: entity declarations, handlers and the registry
//   - config: settings, driver opening and logging
//
// Errors are typed so that callers can branch on them with errors.As or
// the Is helpers:
//
//	u, err := users.Find(ctx, id)
//	switch {
//	case strata.IsNotFound(err):
//		// ...
//	case strata.IsBindError(err):
//		// ...
//	}
package strata
