// Package logger builds configured slog.Logger instances for the billing
// and entitlement components.
//
// The factory wires format, level, static service attributes, and optional
// context extractors that inject request-scoped values into every record:
//
//	log := logger.New(
//		logger.WithProduction("billing"),
//		logger.WithContextValue("request_id", requestIDKey),
//	)
//	logger.SetAsDefault(log)
//
// Attribute helpers (logger.Error, logger.UserID, logger.Plan) keep log
// keys consistent across packages.
package logger
