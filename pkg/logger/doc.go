// Package logger builds the structured *slog.Logger used across sharepool.
//
// New takes functional options: an environment preset (WithEnvironment,
// WithDevelopment, WithStaging, WithProduction), an explicit level or format,
// static attributes and context extractors. When extractors are set the
// handler appends the attributes they pull from the context on every call,
// so request-scoped values such as the request id show up without being
// passed explicitly.
//
// attr.go holds the attribute constructors used for domain identifiers
// (OrderID, ProfileID, AccountID, Job, Verdict, ...). Using them keeps keys
// consistent between packages. Constructors taking `any` return an empty Attr
// for nil, and slog drops empty attributes:
//
//	log.InfoContext(ctx, "order approved",
//	    logger.OrderID(order.ID),
//	    logger.Error(err), // omitted when err is nil
//	)
package logger
